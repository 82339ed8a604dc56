package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	LibraryPath         string      `yaml:"library_path"         json:"library_path"`
	ExcludePaths        []string    `yaml:"exclude_paths"        json:"exclude_paths"`
	DBPath              string      `yaml:"db_path"              json:"-"`
	HTTPAddr            string      `yaml:"http_addr"            json:"-"`
	TrashDir            string      `yaml:"trash_dir"            json:"-"`
	TrashRetentionDays  int         `yaml:"trash_retention_days" json:"trash_retention_days"`
	SimilarityThreshold int         `yaml:"similarity_threshold" json:"similarity_threshold"`
	SyncSchedule        string      `yaml:"sync_schedule"        json:"sync_schedule"`
	SyncPaused          bool        `yaml:"sync_paused"          json:"sync_paused"`
	SyncWorkers         SyncWorkers `yaml:"sync_workers"         json:"sync_workers"`
	LogLevel            string      `yaml:"log_level"            json:"-"`
}

// SyncWorkers holds concurrency knobs for the library sync pipeline.
type SyncWorkers struct {
	Hashers int `yaml:"hashers" json:"hashers"`
	Probers int `yaml:"probers" json:"probers"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "/data/picsift.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.TrashDir == "" {
		c.TrashDir = "/data/trash"
	}
	if c.TrashRetentionDays == 0 {
		c.TrashRetentionDays = 30
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 8
	}
	if c.SyncSchedule == "" {
		c.SyncSchedule = "0 2 * * 0"
	}
	if c.SyncWorkers.Hashers == 0 {
		c.SyncWorkers.Hashers = 4
	}
	if c.SyncWorkers.Probers == 0 {
		c.SyncWorkers.Probers = 2
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the server
// can start without a mounted config file (useful for bare Docker runs).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}
