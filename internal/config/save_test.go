package config

import (
	"path/filepath"
	"testing"
)

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Engine.Concurrency = 7
	cfg.Roles["MAESTRO"] = RoleConfig{SystemPrompt: "custom prompt"}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Engine.Concurrency != 7 {
		t.Errorf("expected concurrency 7, got %d", loaded.Engine.Concurrency)
	}
	if loaded.Roles["MAESTRO"].SystemPrompt != "custom prompt" {
		t.Errorf("expected custom prompt, got %q", loaded.Roles["MAESTRO"].SystemPrompt)
	}
}
