package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Comm.Default != "ipc" {
		t.Fatalf("default transport: got %q, want ipc", cfg.Comm.Default)
	}
	if cfg.Comm.Wire.Codec != "cbor" || cfg.Comm.Wire.MaxFrame != 64*1024 {
		t.Fatalf("wire defaults: %+v", cfg.Comm.Wire)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log defaults: %+v", cfg.Log)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for explicitly named missing file")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ygg.yaml")
	data := []byte("app_name: testproc\ncomm:\n  default: socket\n  wire:\n    codec: json\n    max_frame: 1024\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "testproc" || cfg.Comm.Default != "socket" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Comm.Wire.Codec != "json" || cfg.Comm.Wire.MaxFrame != 1024 {
		t.Fatalf("wire values not applied: %+v", cfg.Comm.Wire)
	}
	// untouched keys keep defaults
	if cfg.Comm.Queue.Depth != 64 {
		t.Fatalf("queue depth default lost: %d", cfg.Comm.Queue.Depth)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("YGG_COMM_DEFAULT", "quic")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Comm.Default != "quic" {
		t.Fatalf("env override not applied: %q", cfg.Comm.Default)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ygg.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid log level")
	}

	if err := os.WriteFile(path, []byte("comm:\n  wire:\n    codec: protobuf\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown wire codec")
	}
}
