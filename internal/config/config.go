package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Operations OperationsConfig `yaml:"operations"`
	Cache      CacheConfig      `yaml:"cache"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Trash      TrashConfig      `yaml:"trash"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type ScannerConfig struct {
	FollowSymlinks bool `yaml:"follow_symlinks"`
	MaxDepth       int  `yaml:"max_depth"`
	ShowHidden     bool `yaml:"show_hidden"`
	BatchBuffer    int  `yaml:"batch_buffer"`
}

type OperationsConfig struct {
	ProgressBuffer int `yaml:"progress_buffer"`
}

type CacheConfig struct {
	MetadataBudgetMB int    `yaml:"metadata_budget_mb"`
	PreviewBudgetMB  int    `yaml:"preview_budget_mb"`
	PreviewDir       string `yaml:"preview_dir"`
}

type WatcherConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window"`
	EventBuffer    int           `yaml:"event_buffer"`
}

type TrashConfig struct {
	Dir string `yaml:"dir"` // empty means the XDG default
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8710,
			LogLevel: "info",
		},
		Scanner: ScannerConfig{
			FollowSymlinks: true,
			MaxDepth:       32,
			ShowHidden:     false,
			BatchBuffer:    8,
		},
		Operations: OperationsConfig{
			ProgressBuffer: 64,
		},
		Cache: CacheConfig{
			MetadataBudgetMB: 128,
			PreviewBudgetMB:  64,
		},
		Watcher: WatcherConfig{
			DebounceWindow: 50 * time.Millisecond,
			EventBuffer:    256,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is
// not an error; env overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	LoadFromEnv(cfg)
	return cfg, nil
}
