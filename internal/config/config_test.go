package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type memSecrets map[string]string

func (m memSecrets) Get(name string) (string, error) { return m[name], nil }
func (m memSecrets) Set(name, value string) error   { m[name] = value; return nil }
func (m memSecrets) Delete(name string) error        { delete(m, name); return nil }

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestConfig_LoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir, WithEnv(env(nil)), WithSecrets(memSecrets{}))

	cfg := Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 8080
	cfg.Model = "poe:claude-opus-4.5"
	cfg.Poe.APIKey = "should-not-be-written"

	if err := manager.Save(&cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if !manager.Exists() {
		t.Errorf("Config file should exist after saving")
	}

	data, err := os.ReadFile(manager.GetPath())
	if err != nil {
		t.Fatalf("Failed to read saved config: %v", err)
	}
	if got := string(data); strings.Contains(got, "should-not-be-written") {
		t.Errorf("API key leaked into config file:\n%s", got)
	}

	loadedCfg, err := manager.Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loadedCfg.Host != cfg.Host {
		t.Errorf("Expected host %s, got %s", cfg.Host, loadedCfg.Host)
	}

	if loadedCfg.Port != cfg.Port {
		t.Errorf("Expected port %d, got %d", cfg.Port, loadedCfg.Port)
	}

	if loadedCfg.Model != cfg.Model {
		t.Errorf("Expected model %s, got %s", cfg.Model, loadedCfg.Model)
	}

	if loadedCfg.Timeout != DefaultTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultTimeout, loadedCfg.Timeout)
	}
}

func TestConfig_DefaultsWithoutFile(t *testing.T) {
	manager := NewManager(t.TempDir(), WithEnv(env(nil)), WithSecrets(memSecrets{}))

	cfg, err := manager.Load()
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Host != DefaultHost {
		t.Errorf("Expected default host %s, got %s", DefaultHost, cfg.Host)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Expected default port %d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.LMStudio.Base != DefaultLMStudioBase {
		t.Errorf("Expected default LM Studio base %s, got %s", DefaultLMStudioBase, cfg.LMStudio.Base)
	}
	if cfg.LMStudio.Model != DefaultLMStudioModel {
		t.Errorf("Expected default LM Studio model %s, got %s", DefaultLMStudioModel, cfg.LMStudio.Model)
	}
	if manager.Exists() {
		t.Errorf("No config file should exist")
	}
}

func TestConfig_GetPath(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	expectedPath := filepath.Join(tmpDir, DefaultYAMLFilename)
	if manager.GetPath() != expectedPath {
		t.Errorf("Expected config path %s, got %s", expectedPath, manager.GetPath())
	}

	jsonPath := filepath.Join(tmpDir, DefaultConfigFilename)
	if err := os.WriteFile(jsonPath, []byte(`{"port": 9000}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if manager.GetPath() != jsonPath {
		t.Errorf("Expected existing JSON path %s, got %s", jsonPath, manager.GetPath())
	}
}

func TestConfig_WithOverrides(t *testing.T) {
	host := "localhost"
	port := 9999
	timeout := 5 * time.Second

	cfg := Default().WithOverrides(Overrides{
		Host:    &host,
		Port:    &port,
		Timeout: &timeout,
	})

	if cfg.Host != host || cfg.Port != port || cfg.Timeout != timeout {
		t.Errorf("Overrides not applied: %+v", cfg)
	}
	if cfg.LMStudio.Model != DefaultLMStudioModel {
		t.Errorf("Unset override changed LM Studio model to %s", cfg.LMStudio.Model)
	}
}
