// Package archive keeps a copy of every submitted layer artifact outside the
// change-proposal system, in an object store or a local directory.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// Store writes archived objects.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Key returns the object key for a run's layer artifact.
func Key(runID string, layer models.Layer, name string) string {
	return path.Join("runs", runID, string(layer), name)
}

// MinioConfig configures the object store backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Validate checks the required settings.
func (c MinioConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("archive endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("archive access key and secret key are required")
	}
	if c.Bucket == "" {
		return errors.New("archive bucket is required")
	}
	return nil
}

// objectClient is the subset of the MinIO client used by the archive.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Minio archives objects in an S3-compatible bucket. The bucket is created on
// first use.
type Minio struct {
	client objectClient
	cfg    MinioConfig

	mu    sync.Mutex
	ready bool
}

// NewMinio creates an archive backed by a MinIO or S3 endpoint.
func NewMinio(cfg MinioConfig) (*Minio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Minio{client: client, cfg: cfg}, nil
}

// Put uploads body under key.
func (m *Minio) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if err := m.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", m.cfg.Bucket, err)
	}
	_, err := m.client.PutObject(ctx, m.cfg.Bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (m *Minio) ensureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{Region: m.cfg.Region}); err != nil {
			return err
		}
	}
	m.ready = true
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Local archives objects as files below a directory.
type Local struct {
	dir string
}

// NewLocal creates an archive rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{dir: dir}
}

// Put writes body to dir/key. Keys may not escape the directory.
func (l *Local) Put(_ context.Context, key string, body []byte, _ string) error {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return fmt.Errorf("put %s: invalid key", key)
	}
	full := filepath.Join(l.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := os.WriteFile(full, body, 0644); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

var (
	_ Store = (*Minio)(nil)
	_ Store = (*Local)(nil)
)
