// Package config handles configuration loading and management for medallion.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Proposal backends.
const (
	ProposalGitHub = "github"
	ProposalGit    = "git"
)

// Archive backends.
const (
	ArchiveMinio = "minio"
	ArchiveLocal = "local"
	ArchiveNone  = "none"
)

// Config holds all configuration for medallion.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Proposal  ProposalConfig  `mapstructure:"proposal"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Store     StoreConfig     `mapstructure:"store"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Log       LogConfig       `mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int64         `mapstructure:"max_tokens"`
	Bedrock   BedrockConfig `mapstructure:"bedrock"`
}

// BedrockConfig selects AWS Bedrock as the inference endpoint.
type BedrockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// WarehouseConfig holds the warehouse connection.
type WarehouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ProposalConfig selects and configures the change-proposal backend.
type ProposalConfig struct {
	Backend string             `mapstructure:"backend"`
	GitHub  GitHubProposalConf `mapstructure:"github"`
	Git     GitProposalConf    `mapstructure:"git"`
}

// GitHubProposalConf configures pull request proposals.
type GitHubProposalConf struct {
	Owner string `mapstructure:"owner"`
	Repo  string `mapstructure:"repo"`
	Base  string `mapstructure:"base"`
	Host  string `mapstructure:"host"`
	Token string `mapstructure:"token"`
	Dir   string `mapstructure:"dir"`
}

// GitProposalConf configures local branch proposals.
type GitProposalConf struct {
	RepoPath string `mapstructure:"repo_path"`
	Base     string `mapstructure:"base"`
	Dir      string `mapstructure:"dir"`
}

// ArchiveConfig selects and configures the artifact archive.
type ArchiveConfig struct {
	Backend string           `mapstructure:"backend"`
	Minio   MinioArchiveConf `mapstructure:"minio"`
	Local   LocalArchiveConf `mapstructure:"local"`
}

// MinioArchiveConf configures the object store archive.
type MinioArchiveConf struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// LocalArchiveConf configures the directory archive.
type LocalArchiveConf struct {
	Dir string `mapstructure:"dir"`
}

// StoreConfig holds the run state database location.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// PipelineConfig holds run settings.
type PipelineConfig struct {
	SampleSize int    `mapstructure:"sample_size"`
	RulesPath  string `mapstructure:"rules_path"`
	SignalsDir string `mapstructure:"signals_dir"`
}

// LogConfig holds the debug log location.
type LogConfig struct {
	File string `mapstructure:"file"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, DATABASE_URL, GH_TOKEN, MINIO_*)
// 2. Project config (.medallion.yaml in current directory or parent)
// 3. User config (~/.config/medallion/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		// Project config takes precedence
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)

	return decode(v)
}

// LoadFromPath loads configuration from a specific path.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in secrets
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Warehouse.DSN = expandEnv(cfg.Warehouse.DSN)
	cfg.Proposal.GitHub.Token = expandEnv(cfg.Proposal.GitHub.Token)
	cfg.Archive.Minio.AccessKey = expandEnv(cfg.Archive.Minio.AccessKey)
	cfg.Archive.Minio.SecretKey = expandEnv(cfg.Archive.Minio.SecretKey)

	return cfg, nil
}

// bindEnv maps the well-known environment variables onto config keys.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("anthropic.model", "MEDALLION_MODEL")
	_ = v.BindEnv("warehouse.dsn", "DATABASE_URL")
	_ = v.BindEnv("proposal.github.token", "GH_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("archive.minio.endpoint", "MINIO_ENDPOINT")
	_ = v.BindEnv("archive.minio.access_key", "MINIO_ACCESS_KEY")
	_ = v.BindEnv("archive.minio.secret_key", "MINIO_SECRET_KEY")
	_ = v.BindEnv("archive.minio.bucket", "MINIO_BUCKET")
}

// Validate checks that the selected backends are fully configured.
func (c *Config) Validate() error {
	var errs []error
	if c.Warehouse.DSN == "" {
		errs = append(errs, errors.New("warehouse.dsn is required"))
	}

	switch c.Proposal.Backend {
	case ProposalGitHub:
		if c.Proposal.GitHub.Owner == "" || c.Proposal.GitHub.Repo == "" {
			errs = append(errs, errors.New("proposal.github.owner and proposal.github.repo are required"))
		}
	case ProposalGit:
		if c.Proposal.Git.RepoPath == "" {
			errs = append(errs, errors.New("proposal.git.repo_path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("proposal.backend %q must be %s or %s", c.Proposal.Backend, ProposalGitHub, ProposalGit))
	}

	switch c.Archive.Backend {
	case ArchiveNone, "":
	case ArchiveLocal:
		if c.Archive.Local.Dir == "" {
			errs = append(errs, errors.New("archive.local.dir is required"))
		}
	case ArchiveMinio:
		if c.Archive.Minio.Endpoint == "" || c.Archive.Minio.Bucket == "" {
			errs = append(errs, errors.New("archive.minio.endpoint and archive.minio.bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q must be %s, %s or %s", c.Archive.Backend, ArchiveMinio, ArchiveLocal, ArchiveNone))
	}

	if c.Pipeline.SampleSize < 1 {
		errs = append(errs, errors.New("pipeline.sample_size must be >= 1"))
	}
	return errors.Join(errs...)
}

// Save writes the anthropic and warehouse settings to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading %s: %w", configPath, err)
		}
	}

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("warehouse.dsn", cfg.Warehouse.DSN)
	v.Set("proposal.backend", cfg.Proposal.Backend)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.bedrock.enabled", false)
	v.SetDefault("anthropic.bedrock.region", "")
	v.SetDefault("anthropic.bedrock.profile", "")

	v.SetDefault("warehouse.dsn", "")

	v.SetDefault("proposal.backend", ProposalGit)
	v.SetDefault("proposal.github.base", "main")
	v.SetDefault("proposal.github.dir", "transformations")
	v.SetDefault("proposal.git.repo_path", ".")
	v.SetDefault("proposal.git.base", "main")
	v.SetDefault("proposal.git.dir", "transformations")

	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.minio.bucket", "medallion-artifacts")
	v.SetDefault("archive.minio.use_ssl", true)
	v.SetDefault("archive.local.dir", filepath.Join(".medallion", "archive"))

	v.SetDefault("store.path", filepath.Join(".medallion", "state.db"))

	v.SetDefault("pipeline.sample_size", 10)
	v.SetDefault("pipeline.rules_path", "rules.yaml")
	v.SetDefault("pipeline.signals_dir", filepath.Join(".medallion", "signals"))

	v.SetDefault("log.file", filepath.Join(".medallion", "logs", "orchestrator-debug.log"))
}

// getUserConfigDir returns the XDG config directory for medallion.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "medallion")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "medallion")
	}
	return filepath.Join(home, ".config", "medallion")
}

// findProjectConfig searches for .medallion.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".medallion.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			MaxTokens: 4096,
		},
		Proposal: ProposalConfig{
			Backend: ProposalGit,
			GitHub:  GitHubProposalConf{Base: "main", Dir: "transformations"},
			Git:     GitProposalConf{RepoPath: ".", Base: "main", Dir: "transformations"},
		},
		Archive: ArchiveConfig{
			Backend: ArchiveNone,
			Minio:   MinioArchiveConf{Bucket: "medallion-artifacts", UseSSL: true},
			Local:   LocalArchiveConf{Dir: filepath.Join(".medallion", "archive")},
		},
		Store: StoreConfig{
			Path: filepath.Join(".medallion", "state.db"),
		},
		Pipeline: PipelineConfig{
			SampleSize: 10,
			RulesPath:  "rules.yaml",
			SignalsDir: filepath.Join(".medallion", "signals"),
		},
		Log: LogConfig{
			File: filepath.Join(".medallion", "logs", "orchestrator-debug.log"),
		},
	}
}
