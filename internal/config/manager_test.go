package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const baseConfigYAML = `
agent:
  system_prompt: "you are an agent"
  model: gpt-4
  api_key: secret-key
  providers:
    - name: p0
      api_base: https://example.com
      priority: 0
gateway:
  host: 0.0.0.0
  port: 9090
  auth:
    mode: token
    token: topsecret
`

func TestUpdateWithAllMaskedLeavesIsNoOp(t *testing.T) {
	path := writeTestConfig(t, baseConfigYAML)
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}

	before, err := m.GetMasked()
	if err != nil {
		t.Fatal(err)
	}

	patch := map[string]any{
		"agent": map[string]any{
			"api_key": "***",
		},
		"gateway": map[string]any{
			"auth": map[string]any{
				"token": "***",
			},
		},
	}
	if _, err := m.Update(patch); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	after, err := m.GetMasked()
	if err != nil {
		t.Fatal(err)
	}

	beforeYAML, _ := yaml.Marshal(before)
	afterYAML, _ := yaml.Marshal(after)
	if string(beforeYAML) != string(afterYAML) {
		t.Fatalf("expected masked document unchanged:\nbefore:\n%s\nafter:\n%s", beforeYAML, afterYAML)
	}

	cfg := m.Get()
	if cfg.Agent.APIKey != "secret-key" {
		t.Fatalf("expected api_key unchanged, got %q", cfg.Agent.APIKey)
	}
	if cfg.Gateway.Auth.Token != "topsecret" {
		t.Fatalf("expected token unchanged, got %q", cfg.Gateway.Auth.Token)
	}
}

func TestUpdateDeepMergesWithoutClobberingSiblingFields(t *testing.T) {
	path := writeTestConfig(t, baseConfigYAML)
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Update(map[string]any{
		"gateway": map[string]any{
			"port": 9091,
		},
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Gateway.Port != 9091 {
		t.Fatalf("expected port updated to 9091, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.Host != "0.0.0.0" {
		t.Fatalf("expected host preserved, got %q", cfg.Gateway.Host)
	}
	if cfg.Gateway.Auth.Mode != "token" {
		t.Fatalf("expected auth.mode preserved, got %q", cfg.Gateway.Auth.Mode)
	}
}

func TestUpdateRejectsInvalidAuthMode(t *testing.T) {
	path := writeTestConfig(t, baseConfigYAML)
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.Update(map[string]any{
		"gateway": map[string]any{
			"auth": map[string]any{"mode": "bogus"},
		},
	})
	if err == nil {
		t.Fatal("expected validation error for invalid auth mode")
	}
}

func TestGetMaskedNeverLeaksSecrets(t *testing.T) {
	path := writeTestConfig(t, baseConfigYAML)
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	masked, err := m.GetMasked()
	if err != nil {
		t.Fatal(err)
	}
	agent := masked["agent"].(map[string]any)
	if agent["api_key"] != maskedPlaceholder {
		t.Fatalf("expected api_key masked, got %v", agent["api_key"])
	}
	gateway := masked["gateway"].(map[string]any)
	auth := gateway["auth"].(map[string]any)
	if auth["token"] != maskedPlaceholder {
		t.Fatalf("expected token masked, got %v", auth["token"])
	}
}
