package credentials

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Credentials struct {
	AgentAPIKey string
	GithubToken string

	// GitHub App authentication (alternative to GithubToken).
	GithubAppClientID       string
	GithubAppInstallationID int64
	GithubAppPrivateKeyPath string
}

// HasGithubApp returns true if GitHub App credentials are configured.
func (c Credentials) HasGithubApp() bool {
	return c.GithubAppClientID != "" && c.GithubAppInstallationID != 0 && c.GithubAppPrivateKeyPath != ""
}

type credentialsFile struct {
	AgentAPIKey             string `yaml:"agent_api_key"`
	GithubToken             string `yaml:"github_token"`
	GithubAppClientID       string `yaml:"github_app_client_id"`
	GithubAppInstallationID int64  `yaml:"github_app_installation_id"`
	GithubAppPrivateKeyPath string `yaml:"github_app_private_key_path"`
}

// DefaultPath returns the default configuration directory (~/.agentboard).
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agentboard")
}

// Resolve returns credentials with precedence: env vars (AGENT_API_KEY,
// GITHUB_TOKEN) > credentials file. If the file is missing, env vars
// alone are used, and both must be set.
func Resolve(configDir string) (Credentials, error) {
	envAgent := os.Getenv("AGENT_API_KEY")
	envGithub := os.Getenv("GITHUB_TOKEN")

	filePath := filepath.Join(configDir, "credentials.yaml")
	data, err := os.ReadFile(filePath)

	if err != nil {
		if !os.IsNotExist(err) {
			return Credentials{}, fmt.Errorf("reading credentials file: %w", err)
		}
		if envAgent == "" || envGithub == "" {
			return Credentials{}, fmt.Errorf("credentials file not found (%s) and environment variables AGENT_API_KEY/GITHUB_TOKEN not set", filePath)
		}
		return Credentials{AgentAPIKey: envAgent, GithubToken: envGithub}, nil
	}

	var cf credentialsFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return Credentials{}, fmt.Errorf("parsing credentials file: %w", err)
	}

	if err := validateGithubAppFields(cf); err != nil {
		return Credentials{}, fmt.Errorf("%s: %w", filePath, err)
	}

	creds := Credentials{
		AgentAPIKey:             cf.AgentAPIKey,
		GithubToken:             cf.GithubToken,
		GithubAppClientID:       cf.GithubAppClientID,
		GithubAppInstallationID: cf.GithubAppInstallationID,
		GithubAppPrivateKeyPath: cf.GithubAppPrivateKeyPath,
	}

	if envAgent != "" {
		creds.AgentAPIKey = envAgent
	}
	// GITHUB_TOKEN env var overrides both token and app auth.
	if envGithub != "" {
		creds.GithubToken = envGithub
		creds.GithubAppClientID = ""
		creds.GithubAppInstallationID = 0
		creds.GithubAppPrivateKeyPath = ""
	}

	if creds.AgentAPIKey == "" {
		return Credentials{}, fmt.Errorf("no agent API key configured (set agent_api_key in %s or AGENT_API_KEY)", filePath)
	}
	if creds.GithubToken == "" && !creds.HasGithubApp() {
		return Credentials{}, fmt.Errorf("no GitHub credentials configured (set github_token or github_app_* in %s, or GITHUB_TOKEN)", filePath)
	}

	return creds, nil
}

// validateGithubAppFields checks that if any github_app_* field is set,
// all three must be set.
func validateGithubAppFields(cf credentialsFile) error {
	hasClientID := cf.GithubAppClientID != ""
	hasInstallID := cf.GithubAppInstallationID != 0
	hasKeyPath := cf.GithubAppPrivateKeyPath != ""

	if hasClientID || hasInstallID || hasKeyPath {
		if !hasClientID || !hasInstallID || !hasKeyPath {
			return fmt.Errorf("incomplete GitHub App configuration: github_app_client_id, github_app_installation_id, and github_app_private_key_path must all be set")
		}
	}
	return nil
}
