package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http_addr = %q", cfg.HTTPAddr)
	}
	if cfg.SimilarityThreshold != 8 {
		t.Errorf("similarity_threshold = %d, want 8", cfg.SimilarityThreshold)
	}
	if cfg.TrashRetentionDays != 30 {
		t.Errorf("trash_retention_days = %d, want 30", cfg.TrashRetentionDays)
	}
	if cfg.SyncWorkers.Hashers != 4 || cfg.SyncWorkers.Probers != 2 {
		t.Errorf("sync_workers = %+v", cfg.SyncWorkers)
	}
	if cfg.SyncSchedule != "0 2 * * 0" {
		t.Errorf("sync_schedule = %q", cfg.SyncSchedule)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
library_path: /photos
exclude_paths:
  - /photos/cache
http_addr: ":9000"
similarity_threshold: 12
sync_paused: true
sync_workers:
  hashers: 8
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LibraryPath != "/photos" {
		t.Errorf("library_path = %q", cfg.LibraryPath)
	}
	if len(cfg.ExcludePaths) != 1 || cfg.ExcludePaths[0] != "/photos/cache" {
		t.Errorf("exclude_paths = %v", cfg.ExcludePaths)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("http_addr = %q", cfg.HTTPAddr)
	}
	if cfg.SimilarityThreshold != 12 {
		t.Errorf("similarity_threshold = %d", cfg.SimilarityThreshold)
	}
	if !cfg.SyncPaused {
		t.Error("sync_paused not set")
	}
	// Unset fields still get defaults.
	if cfg.SyncWorkers.Hashers != 8 || cfg.SyncWorkers.Probers != 2 {
		t.Errorf("sync_workers = %+v", cfg.SyncWorkers)
	}
	if cfg.DBPath != "/data/picsift.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("no_such_option: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}
