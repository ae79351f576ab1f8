package prompts

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	set := Default()
	if set.Decision == "" || set.Synthesis == "" {
		t.Fatal("defaults must be non-empty")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	set, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if set != Default() {
		t.Error("empty path must return defaults")
	}
}

func TestLoadPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := "decision: |-\n  Pick a tool.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if set.Decision != "Pick a tool." {
		t.Errorf("decision not overridden: %q", set.Decision)
	}
	if set.Synthesis != DefaultSynthesis {
		t.Error("synthesis must keep its default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("decision: [unclosed"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}
