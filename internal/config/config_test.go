package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Proposal.Backend != ProposalGit {
		t.Errorf("expected default proposal backend %q, got %q", ProposalGit, cfg.Proposal.Backend)
	}

	if cfg.Archive.Backend != ArchiveNone {
		t.Errorf("expected default archive backend %q, got %q", ArchiveNone, cfg.Archive.Backend)
	}

	if cfg.Pipeline.SampleSize != 10 {
		t.Errorf("expected sample size 10, got %d", cfg.Pipeline.SampleSize)
	}

	if cfg.Anthropic.MaxTokens != 4096 {
		t.Errorf("expected max tokens 4096, got %d", cfg.Anthropic.MaxTokens)
	}

	if cfg.Store.Path != filepath.Join(".medallion", "state.db") {
		t.Errorf("unexpected store path %q", cfg.Store.Path)
	}
}

func TestLoadFromPathDefaultsMatchDefault(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("warehouse:\n  dsn: postgres://localhost/dw\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	want := Default()
	want.Warehouse.DSN = "postgres://localhost/dw"
	if cfg.Pipeline != want.Pipeline {
		t.Errorf("pipeline = %+v, want %+v", cfg.Pipeline, want.Pipeline)
	}
	if cfg.Proposal != want.Proposal {
		t.Errorf("proposal = %+v, want %+v", cfg.Proposal, want.Proposal)
	}
	if cfg.Archive != want.Archive {
		t.Errorf("archive = %+v, want %+v", cfg.Archive, want.Archive)
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("TEST_WAREHOUSE_PASSWORD", "s3cret")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: test-key
  model: claude-opus-4-20250514
  max_tokens: 8192
  bedrock:
    enabled: true
    region: us-west-2
warehouse:
  dsn: postgres://etl:${TEST_WAREHOUSE_PASSWORD}@db/warehouse
proposal:
  backend: github
  github:
    owner: acme
    repo: data-platform
    base: develop
archive:
  backend: minio
  minio:
    endpoint: minio.internal:9000
    bucket: artifacts
    use_ssl: false
pipeline:
  sample_size: 25
  rules_path: config/rules.txt
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}
	if cfg.Anthropic.MaxTokens != 8192 {
		t.Errorf("expected max_tokens 8192, got %d", cfg.Anthropic.MaxTokens)
	}
	if !cfg.Anthropic.Bedrock.Enabled || cfg.Anthropic.Bedrock.Region != "us-west-2" {
		t.Errorf("unexpected bedrock config %+v", cfg.Anthropic.Bedrock)
	}
	if cfg.Warehouse.DSN != "postgres://etl:s3cret@db/warehouse" {
		t.Errorf("expected expanded dsn, got %q", cfg.Warehouse.DSN)
	}
	if cfg.Proposal.Backend != ProposalGitHub {
		t.Errorf("expected github backend, got %q", cfg.Proposal.Backend)
	}
	if cfg.Proposal.GitHub.Base != "develop" {
		t.Errorf("expected base 'develop', got %q", cfg.Proposal.GitHub.Base)
	}
	if cfg.Proposal.GitHub.Dir != "transformations" {
		t.Errorf("expected default dir 'transformations', got %q", cfg.Proposal.GitHub.Dir)
	}
	if cfg.Archive.Minio.UseSSL {
		t.Error("expected use_ssl to be false")
	}
	if cfg.Pipeline.SampleSize != 25 {
		t.Errorf("expected sample size 25, got %d", cfg.Pipeline.SampleSize)
	}
	if cfg.Pipeline.RulesPath != "config/rules.txt" {
		t.Errorf("expected rules path 'config/rules.txt', got %q", cfg.Pipeline.RulesPath)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadFromPathMissing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Warehouse.DSN = "postgres://localhost/dw"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with dsn", func(*Config) {}, ""},
		{"missing dsn", func(c *Config) { c.Warehouse.DSN = "" }, "warehouse.dsn"},
		{"github without repo", func(c *Config) { c.Proposal.Backend = ProposalGitHub }, "proposal.github.owner"},
		{"git without path", func(c *Config) { c.Proposal.Git.RepoPath = "" }, "proposal.git.repo_path"},
		{"unknown proposal backend", func(c *Config) { c.Proposal.Backend = "gerrit" }, `proposal.backend "gerrit"`},
		{"minio without endpoint", func(c *Config) { c.Archive.Backend = ArchiveMinio }, "archive.minio.endpoint"},
		{"local archive", func(c *Config) { c.Archive.Backend = ArchiveLocal }, ""},
		{"unknown archive backend", func(c *Config) { c.Archive.Backend = "ftp" }, `archive.backend "ftp"`},
		{"zero sample size", func(c *Config) { c.Pipeline.SampleSize = 0 }, "pipeline.sample_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadBindsEnvironment(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")
	t.Setenv("DATABASE_URL", "postgres://env/dw")
	t.Setenv("MINIO_BUCKET", "env-bucket")

	project := t.TempDir()
	content := "warehouse:\n  dsn: postgres://project/dw\nproposal:\n  backend: github\n"
	if err := os.WriteFile(filepath.Join(project, ".medallion.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(project, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("api key = %q, want env value", cfg.Anthropic.APIKey)
	}
	if cfg.Warehouse.DSN != "postgres://env/dw" {
		t.Errorf("dsn = %q, want env value", cfg.Warehouse.DSN)
	}
	if cfg.Archive.Minio.Bucket != "env-bucket" {
		t.Errorf("bucket = %q, want env value", cfg.Archive.Minio.Bucket)
	}
	if cfg.Proposal.Backend != ProposalGitHub {
		t.Errorf("backend = %q, want project value", cfg.Proposal.Backend)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	dir := getUserConfigDir()
	expected := filepath.Join("/custom/config", "medallion")
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}

func TestFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	t.Chdir(root)
	if got := findProjectConfig(); got != "" && filepath.Dir(got) == root {
		t.Errorf("findProjectConfig() = %q before the file exists", got)
	}

	path := filepath.Join(root, ".medallion.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := filepath.EvalSymlinks(findProjectConfig())
	if err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.EvalSymlinks(path)
	if got != want {
		t.Errorf("findProjectConfig() = %q, want %q", got, want)
	}
}
