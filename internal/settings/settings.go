package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	Listen     string      `yaml:"listen"`
	Rules      string      `yaml:"rules"`
	DataDir    string      `yaml:"data_dir"`
	Index      IndexSpec   `yaml:"index"`
	ResolveLog bool        `yaml:"resolve_log"`
	Session    SessionSpec `yaml:"session"`
	Bake       BakeSpec    `yaml:"bake"`
}

type IndexSpec struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type SessionSpec struct {
	DefaultWidth   int `yaml:"default_width"`
	DefaultHeight  int `yaml:"default_height"`
	MaxWidth       int `yaml:"max_width"`
	MaxHeight      int `yaml:"max_height"`
	MaxTargets     int `yaml:"max_targets"`
	MaxQueue       int `yaml:"max_queue"`
	ReadTimeoutSec int `yaml:"read_timeout_sec"`
}

type BakeSpec struct {
	Workers int `yaml:"workers"`
}

func Load(path string) (Settings, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("server.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("server.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Settings {
	return Settings{
		Listen:     ":8080",
		Rules:      "configs/tile_rules.json",
		DataDir:    "data",
		Index:      IndexSpec{Enabled: true},
		ResolveLog: true,
		Session: SessionSpec{
			DefaultWidth:   64,
			DefaultHeight:  64,
			MaxWidth:       1024,
			MaxHeight:      1024,
			MaxTargets:     4096,
			MaxQueue:       16,
			ReadTimeoutSec: 60,
		},
	}
}

func (s *Settings) Normalize() {
	if s == nil {
		return
	}
	s.Listen = strings.TrimSpace(s.Listen)
	s.Rules = strings.TrimSpace(s.Rules)
	s.DataDir = strings.TrimSpace(s.DataDir)
	if s.DataDir == "" {
		s.DataDir = "data"
	}
	s.Index.Path = strings.TrimSpace(s.Index.Path)
	if s.Index.Enabled && s.Index.Path == "" {
		s.Index.Path = filepath.Join(s.DataDir, "index", "tiles.sqlite")
	}
	if s.Session.MaxQueue <= 0 {
		s.Session.MaxQueue = 16
	}
	if s.Session.ReadTimeoutSec <= 0 {
		s.Session.ReadTimeoutSec = 60
	}
	if s.Bake.Workers < 0 {
		s.Bake.Workers = 0
	}
}

func (s Settings) Validate() error {
	if s.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	ss := s.Session
	if ss.DefaultWidth <= 0 || ss.DefaultHeight <= 0 {
		return fmt.Errorf("session default grid must be positive: %dx%d", ss.DefaultWidth, ss.DefaultHeight)
	}
	if ss.MaxWidth < ss.DefaultWidth || ss.MaxHeight < ss.DefaultHeight {
		return fmt.Errorf("session max grid %dx%d smaller than default %dx%d", ss.MaxWidth, ss.MaxHeight, ss.DefaultWidth, ss.DefaultHeight)
	}
	if ss.MaxTargets <= 0 {
		return fmt.Errorf("session.max_targets must be positive")
	}
	return nil
}

// ReadTimeout is the idle limit for a websocket session.
func (s SessionSpec) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSec) * time.Second
}
