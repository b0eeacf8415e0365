package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Backend.URL != DefaultBackendURL {
		t.Fatalf("backend url = %q", cfg.Backend.URL)
	}
	if cfg.Backend.Timeout != DefaultTimeout {
		t.Fatalf("timeout = %v", cfg.Backend.Timeout)
	}
	if cfg.Server.TokenTTL != 24*time.Hour {
		t.Fatalf("token ttl = %v", cfg.Server.TokenTTL)
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("backend:\n  url: http://localhost:8080\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Backend.URL != LocalBackendURL {
		t.Fatalf("url not applied: %q", cfg.Backend.URL)
	}
	if cfg.Backend.FolderBase != DefaultFolderBase {
		t.Fatalf("folder base default lost: %q", cfg.Backend.FolderBase)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"backend:\n  url: not a url\n":  "config.backend.url",
		"backend:\n  url: \"\"\n":       "config.backend.url is required",
		"log:\n  level: chatty\n":       "config.log.level must be one of",
		"backend:\n  folder_base: up\n": "config.backend.folder_base",
	}
	for in, want := range cases {
		_, err := FromYAML([]byte(in))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%q: expected error containing %q, got %v", in, want, err)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load should fail without susm.yml")
	}
	if err := os.WriteFile(filepath.Join(dir, "susm.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load generated default: %v", err)
	}
}
