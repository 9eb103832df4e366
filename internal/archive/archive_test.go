package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/ShayCichocki/medallion/pkg/models"
)

type fakeObjects struct {
	exists     bool
	existsErr  error
	made       int
	objects    map[string]string
	types      map[string]string
	existCalls int
}

func (f *fakeObjects) BucketExists(context.Context, string) (bool, error) {
	f.existCalls++
	return f.exists, f.existsErr
}

func (f *fakeObjects) MakeBucket(context.Context, string, minio.MakeBucketOptions) error {
	f.made++
	f.exists = true
	return nil
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(data)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	if f.objects == nil {
		f.objects = make(map[string]string)
		f.types = make(map[string]string)
	}
	f.objects[bucket+"/"+key] = string(data)
	f.types[bucket+"/"+key] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func TestKey(t *testing.T) {
	if got := Key("run-1", models.LayerSilver, "transform.sql"); got != "runs/run-1/silver/transform.sql" {
		t.Errorf("Key() = %q", got)
	}
}

func TestMinio_Put(t *testing.T) {
	fake := &fakeObjects{}
	m := &Minio{client: fake, cfg: MinioConfig{Bucket: "medallion"}}

	if err := m.Put(context.Background(), "runs/r/bronze/transform.sql", []byte("SELECT 1;"), "application/sql"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := m.Put(context.Background(), "runs/r/silver/transform.sql", []byte("SELECT 2;"), "application/sql"); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	if fake.made != 1 {
		t.Errorf("MakeBucket called %d times, want 1", fake.made)
	}
	if fake.existCalls != 1 {
		t.Errorf("BucketExists called %d times, want 1", fake.existCalls)
	}
	if got := fake.objects["medallion/runs/r/bronze/transform.sql"]; got != "SELECT 1;" {
		t.Errorf("object = %q", got)
	}
	if got := fake.types["medallion/runs/r/silver/transform.sql"]; got != "application/sql" {
		t.Errorf("content type = %q", got)
	}
}

func TestMinio_PutBucketError(t *testing.T) {
	fake := &fakeObjects{existsErr: errors.New("access denied")}
	m := &Minio{client: fake, cfg: MinioConfig{Bucket: "medallion"}}

	if err := m.Put(context.Background(), "k", []byte("x"), ""); err == nil {
		t.Fatal("expected error when the bucket cannot be checked")
	}

	fake.existsErr = nil
	fake.exists = true
	if err := m.Put(context.Background(), "k", []byte("x"), ""); err != nil {
		t.Fatalf("Put after recovery failed: %v", err)
	}
}

func TestMinioConfig_Validate(t *testing.T) {
	valid := MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	missing := valid
	missing.Bucket = ""
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing bucket")
	}

	if _, err := NewMinio(MinioConfig{}); err == nil {
		t.Error("NewMinio should reject an empty config")
	}
}

func TestLocal_Put(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)

	if err := l.Put(context.Background(), Key("r", models.LayerGold, "transform.sql"), []byte("SELECT 3;"), "application/sql"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "runs", "r", "gold", "transform.sql"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "SELECT 3;" {
		t.Errorf("content = %q", data)
	}

	for _, key := range []string{"", "../escape", "runs/../../x"} {
		if err := l.Put(context.Background(), key, []byte("x"), ""); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
}
