package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/medallion/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify medallion configuration.

Without arguments, displays current configuration and checks it.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/medallion/config.yaml
Project-specific overrides can be placed in .medallion.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			return setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Printf("%s: %s\n", key, value)
	}

	fmt.Println()
	if err := cfg.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			printStatus("✗", line, color.FgRed)
		}
	} else {
		printStatus("✓", "Configuration is complete", color.FgGreen)
	}

	switch src := config.GetAPIKeySource(cfg); src {
	case config.KeySourceNone:
		printStatus("⚠", "No Anthropic API key (set ANTHROPIC_API_KEY)", color.FgYellow)
	default:
		printStatus("✓", fmt.Sprintf("Anthropic credentials from %s", src), color.FgGreen)
	}

	if cfg.Proposal.Backend == config.ProposalGitHub {
		if _, src, err := config.GetGitHubToken(cfg); err != nil {
			printStatus("⚠", "No GitHub token (run 'gh auth login' or set GH_TOKEN)", color.FgYellow)
		} else {
			printStatus("✓", fmt.Sprintf("GitHub token from %s", src), color.FgGreen)
		}
	}
}

// configKeys lists the keys shown by 'medallion config'.
var configKeys = []string{
	"anthropic.api_key",
	"anthropic.model",
	"anthropic.max_tokens",
	"anthropic.bedrock.enabled",
	"warehouse.dsn",
	"proposal.backend",
	"proposal.github.owner",
	"proposal.github.repo",
	"proposal.github.base",
	"proposal.git.repo_path",
	"proposal.git.base",
	"archive.backend",
	"store.path",
	"pipeline.sample_size",
	"pipeline.rules_path",
	"pipeline.signals_dir",
	"log.file",
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) error {
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.model":
		return orDefault(cfg.Anthropic.Model), nil
	case "anthropic.max_tokens":
		return strconv.FormatInt(cfg.Anthropic.MaxTokens, 10), nil
	case "anthropic.bedrock.enabled":
		return strconv.FormatBool(cfg.Anthropic.Bedrock.Enabled), nil
	case "warehouse.dsn":
		return redactDSN(cfg.Warehouse.DSN), nil
	case "proposal.backend":
		return cfg.Proposal.Backend, nil
	case "proposal.github.owner":
		return cfg.Proposal.GitHub.Owner, nil
	case "proposal.github.repo":
		return cfg.Proposal.GitHub.Repo, nil
	case "proposal.github.base":
		return cfg.Proposal.GitHub.Base, nil
	case "proposal.git.repo_path":
		return cfg.Proposal.Git.RepoPath, nil
	case "proposal.git.base":
		return cfg.Proposal.Git.Base, nil
	case "archive.backend":
		return cfg.Archive.Backend, nil
	case "store.path":
		return cfg.Store.Path, nil
	case "pipeline.sample_size":
		return strconv.Itoa(cfg.Pipeline.SampleSize), nil
	case "pipeline.rules_path":
		return cfg.Pipeline.RulesPath, nil
	case "pipeline.signals_dir":
		return cfg.Pipeline.SignalsDir, nil
	case "log.file":
		return cfg.Log.File, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key. Only the
// keys the user config file stores can be set; the rest belong in
// .medallion.yaml.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if err := config.ValidateAPIKey(value); err != nil {
			return err
		}
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "warehouse.dsn":
		cfg.Warehouse.DSN = value
	case "proposal.backend":
		if value != config.ProposalGitHub && value != config.ProposalGit {
			return fmt.Errorf("invalid value for proposal.backend: %q (want %s or %s)", value, config.ProposalGitHub, config.ProposalGit)
		}
		cfg.Proposal.Backend = value
	default:
		if _, err := getConfigValue(cfg, key); err != nil {
			return err
		}
		return fmt.Errorf("%s cannot be set from the command line; edit .medallion.yaml", key)
	}
	return nil
}

// redactDSN hides the password of a connection URL.
func redactDSN(dsn string) string {
	if dsn == "" {
		return "(not set)"
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}
