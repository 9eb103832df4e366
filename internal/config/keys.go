package config

import (
	"errors"
	"os"
	"strings"

	"github.com/cli/go-gh/v2/pkg/auth"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// ErrNoGitHubToken is returned when neither config nor the gh CLI holds a token.
var ErrNoGitHubToken = errors.New("no GitHub token configured")

// GetAPIKey returns the Anthropic API key: ANTHROPIC_API_KEY first, then
// anthropic.api_key. Bedrock runs take their credentials from the AWS chain
// and need no key.
func GetAPIKey(cfg *Config) (string, error) {
	key, src := resolveAPIKey(cfg)
	if src == KeySourceNone {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// GetAPIKeySource reports where GetAPIKey would take the key from.
func GetAPIKeySource(cfg *Config) KeySource {
	_, src := resolveAPIKey(cfg)
	return src
}

func resolveAPIKey(cfg *Config) (string, KeySource) {
	if cfg != nil && cfg.Anthropic.Bedrock.Enabled {
		return "", KeySourceBedrock
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, KeySourceEnv
	}
	if cfg == nil {
		return "", KeySourceNone
	}
	// ${VAR} references that expand to nothing count as unset.
	key := os.ExpandEnv(cfg.Anthropic.APIKey)
	if key == "" || strings.HasPrefix(key, "${") {
		return "", KeySourceNone
	}
	return key, KeySourceConfig
}

// ValidateAPIKey checks the shape of an Anthropic key without calling the
// API.
func ValidateAPIKey(key string) error {
	switch {
	case key == "":
		return ErrNoAPIKey
	case !strings.HasPrefix(key, "sk-ant-"):
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	case len(key) < 20:
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey hides all but the first 7 and last 4 characters of a secret.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 15:
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where a credential was loaded from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws_bedrock"
	KeySourceGH      KeySource = "gh_cli"
	KeySourceNone    KeySource = "none"
)

// tokenForHost is replaced in tests.
var tokenForHost = auth.TokenForHost

// GetGitHubToken returns the token for the GitHub proposal backend: the
// configured token when set, otherwise the one the gh CLI resolves for the
// configured host (GH_TOKEN, GITHUB_TOKEN or its stored login).
func GetGitHubToken(cfg *Config) (string, KeySource, error) {
	if cfg != nil && cfg.Proposal.GitHub.Token != "" {
		return cfg.Proposal.GitHub.Token, KeySourceConfig, nil
	}

	host := "github.com"
	if cfg != nil && cfg.Proposal.GitHub.Host != "" {
		host = cfg.Proposal.GitHub.Host
	}
	if token, _ := tokenForHost(host); token != "" {
		return token, KeySourceGH, nil
	}

	return "", KeySourceNone, ErrNoGitHubToken
}
