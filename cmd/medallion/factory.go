package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/medallion/internal/agent"
	"github.com/ShayCichocki/medallion/internal/analysis"
	"github.com/ShayCichocki/medallion/internal/api"
	"github.com/ShayCichocki/medallion/internal/archive"
	"github.com/ShayCichocki/medallion/internal/config"
	"github.com/ShayCichocki/medallion/internal/exec"
	"github.com/ShayCichocki/medallion/internal/orchestrator"
	"github.com/ShayCichocki/medallion/internal/pipeline"
	"github.com/ShayCichocki/medallion/internal/proposal"
	"github.com/ShayCichocki/medallion/internal/state"
	"github.com/ShayCichocki/medallion/internal/warehouse"
)

// loadConfig reads --config when given, otherwise the user and project files.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens and migrates the run state database.
func openStore(cfg *config.Config) (*state.DB, error) {
	path := cfg.Store.Path
	if path == "" {
		path = state.ProjectDBPath(".")
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// newProposals creates the configured change-proposal backend.
func newProposals(cfg *config.Config) (proposal.Backend, error) {
	switch cfg.Proposal.Backend {
	case config.ProposalGitHub:
		gh := cfg.Proposal.GitHub
		token, _, err := config.GetGitHubToken(cfg)
		if err != nil {
			return nil, err
		}
		return proposal.NewGitHub(proposal.GitHubConfig{
			Owner: gh.Owner,
			Repo:  gh.Repo,
			Base:  gh.Base,
			Host:  gh.Host,
			Token: token,
			Dir:   gh.Dir,
		})
	case config.ProposalGit, "":
		g := cfg.Proposal.Git
		return proposal.NewLocalGit(exec.NewRunner(), proposal.GitConfig{
			RepoPath: g.RepoPath,
			Base:     g.Base,
			Dir:      g.Dir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", proposal.ErrNotConfigured, cfg.Proposal.Backend)
	}
}

// newArchive creates the configured artifact archive. A nil archive means
// artifacts are not archived.
func newArchive(cfg *config.Config) (agent.Archive, error) {
	switch cfg.Archive.Backend {
	case config.ArchiveMinio:
		m := cfg.Archive.Minio
		return archive.NewMinio(archive.MinioConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			Region:    m.Region,
			UseSSL:    m.UseSSL,
		})
	case config.ArchiveLocal:
		return archive.NewLocal(cfg.Archive.Local.Dir), nil
	case config.ArchiveNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}

// newInference creates the Anthropic client.
func newInference(cfg *config.Config) (*api.Client, error) {
	key, err := config.GetAPIKey(cfg)
	if err != nil {
		return nil, err
	}
	a := cfg.Anthropic
	client, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.Model(a.Model),
		APIKey:        key,
		MaxTokens:     a.MaxTokens,
		UseAWSBedrock: a.Bedrock.Enabled,
		AWSRegion:     a.Bedrock.Region,
		AWSProfile:    a.Bedrock.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	return client, nil
}

// runtime holds everything a pipeline command needs. Close releases it.
type runtime struct {
	cfg       *config.Config
	store     *state.DB
	warehouse *warehouse.Postgres
	proposals proposal.Backend
	tokens    *api.TokenTracker
	logger    *orchestrator.DebugLogger
	events    *orchestrator.EventEmitter
	pipeline  *pipeline.Pipeline
}

// newRuntime wires the pipeline from configuration. When withEvents is set
// the pipeline publishes progress events.
func newRuntime(ctx context.Context, cfg *config.Config, withEvents bool) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	inference, err := newInference(cfg)
	if err != nil {
		return nil, err
	}
	rt.tokens = inference.Tracker()

	rt.warehouse, err = warehouse.Open(ctx, warehouse.DefaultConfig(cfg.Warehouse.DSN))
	if err != nil {
		return nil, err
	}

	rt.proposals, err = newProposals(cfg)
	if err != nil {
		return nil, fmt.Errorf("create proposal backend: %w", err)
	}

	arch, err := newArchive(cfg)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	rt.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}
	recoverInterrupted(ctx, rt.store)

	rt.logger, err = orchestrator.NewDebugLogger(cfg.Log.File)
	if err != nil {
		log.Printf("[medallion] debug log disabled: %v", err)
		rt.logger = orchestrator.NopLogger()
	}

	if withEvents {
		rt.events = orchestrator.NewEventEmitter(100)
	}

	rt.pipeline, err = pipeline.New(pipeline.Config{
		Steps: agent.Config{
			Inference:  inference,
			Warehouse:  rt.warehouse,
			Proposals:  rt.proposals,
			Analyzer:   analysis.New(rt.warehouse),
			Archive:    arch,
			SampleSize: cfg.Pipeline.SampleSize,
		},
		Store:  rt.store,
		Events: rt.events,
		Logger: rt.logger,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return rt, nil
}

// Close releases the runtime's connections.
func (rt *runtime) Close() error {
	var errs []error
	if rt.events != nil {
		rt.events.Close()
	}
	if rt.warehouse != nil {
		errs = append(errs, rt.warehouse.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.logger != nil {
		errs = append(errs, rt.logger.Close())
	}
	return errors.Join(errs...)
}

// recoverInterrupted closes runs whose process died mid-step.
func recoverInterrupted(ctx context.Context, db *state.DB) {
	rm := state.NewRecoveryManager(db, state.DefaultStaleAfter)
	runs, err := rm.CheckForInterrupted(ctx)
	if err != nil {
		log.Printf("[medallion] check for interrupted runs: %v", err)
		return
	}
	for _, r := range runs {
		if err := rm.Clean(ctx, r.RunID); err != nil {
			log.Printf("[medallion] clean interrupted run %s: %v", r.RunID, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "Run %s was interrupted during the %s layer and has been marked failed.\n", r.RunID, r.Layer)
	}
}
