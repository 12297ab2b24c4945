package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return dir
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := writeConfig(t, "repo:\n  owner: octocat\n  name: hello\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Repo.Owner != "octocat" || cfg.Repo.Name != "hello" {
		t.Errorf("unexpected repo: %+v", cfg.Repo)
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Errorf("expected 30s default interval, got %v", cfg.PollInterval())
	}
	if cfg.Workers != 4 {
		t.Errorf("expected 4 default workers, got %d", cfg.Workers)
	}
}

func TestLoad_ExplicitValues(t *testing.T) {
	dir := writeConfig(t, `repo:
  owner: octocat
  name: hello
agent_endpoint: http://localhost:9999/v1
poll_interval_seconds: 10
workers: 8
disable_blocked_comments: "true"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AgentEndpoint != "http://localhost:9999/v1" {
		t.Errorf("unexpected endpoint: %q", cfg.AgentEndpoint)
	}
	if cfg.PollInterval() != 10*time.Second {
		t.Errorf("unexpected interval: %v", cfg.PollInterval())
	}
	if cfg.Workers != 8 {
		t.Errorf("unexpected workers: %d", cfg.Workers)
	}
	if !cfg.BlockedCommentsDisabled() {
		t.Error("expected blocked comments disabled")
	}
}

func TestLoad_MissingRepoFields(t *testing.T) {
	for name, content := range map[string]string{
		"no owner": "repo:\n  name: hello\n",
		"no name":  "repo:\n  owner: octocat\n",
		"empty":    "{}\n",
	} {
		t.Run(name, func(t *testing.T) {
			dir := writeConfig(t, content)
			if _, err := Load(dir); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestTruthy(t *testing.T) {
	trueValues := []string{"true", "TRUE", "True", "1", "yes", "YES", "Yes", " true ", "yes\n"}
	for _, v := range trueValues {
		if !Truthy(v) {
			t.Errorf("Truthy(%q) = false, want true", v)
		}
	}

	falseValues := []string{"", "false", "0", "no", "on", "enabled", "y", "t", "2"}
	for _, v := range falseValues {
		if Truthy(v) {
			t.Errorf("Truthy(%q) = true, want false", v)
		}
	}
}

func TestBlockedCommentsDisabled_EnvOverride(t *testing.T) {
	cfg := Config{DisableBlockedComments: "false"}

	t.Setenv("AGENTBOARD_DISABLE_BLOCKED_COMMENTS", "yes")
	if !cfg.BlockedCommentsDisabled() {
		t.Error("env override should win over config value")
	}

	t.Setenv("AGENTBOARD_DISABLE_BLOCKED_COMMENTS", "no")
	if cfg.BlockedCommentsDisabled() {
		t.Error("a set-but-falsy env value disables suppression")
	}
}

func TestBlockedCommentsDisabled_ConfigValue(t *testing.T) {
	os.Unsetenv("AGENTBOARD_DISABLE_BLOCKED_COMMENTS")

	if (Config{DisableBlockedComments: "1"}).BlockedCommentsDisabled() != true {
		t.Error("expected truthy config value to disable comments")
	}
	if (Config{DisableBlockedComments: ""}).BlockedCommentsDisabled() != false {
		t.Error("comments are enabled by default")
	}
}
