package banana

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.toml")
	content := `
[vocab]
words = ["list", "dict", "status"]

[limits]
max-token-size = 4096
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Limits.MaxTokenSize != 4096 {
		t.Errorf("MaxTokenSize: got %d", cfg.Limits.MaxTokenSize)
	}
	v := cfg.Vocabulary()
	if v == nil || v.Len() != 3 {
		t.Fatalf("Vocabulary: got %v", v)
	}
	if idx, ok := v.Lookup("status"); !ok || idx != 2 {
		t.Errorf("Lookup(status): got %d, %v", idx, ok)
	}
}

func TestLoadConfigEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.toml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Vocabulary() != nil {
		t.Error("empty config should build no vocabulary")
	}
	if cfg.Limits.MaxTokenSize != 0 {
		t.Errorf("MaxTokenSize: got %d", cfg.Limits.MaxTokenSize)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("missing file should be an error")
	}
}

func TestLoadConfigBadSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[vocab\nwords ="), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed TOML should be an error")
	}
}
