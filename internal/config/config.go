// Package config loads the harness's YAML configuration and hot-reloads it
// on change, the way the plugin loader watches its plugin directory.
package config

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// GuardrailsConfig bounds a single agent loop run.
type GuardrailsConfig struct {
	MaxSteps       int     `yaml:"max_steps"`
	MaxTokens      int     `yaml:"max_tokens"`
	MaxWallSeconds int     `yaml:"max_wall_seconds"`
	MaxParallel    int     `yaml:"max_parallel_tools"`
	SoftTrimRatio  float64 `yaml:"soft_trim_ratio"`
	HardClearRatio float64 `yaml:"hard_clear_ratio"`
}

// SubagentConfig bounds the subagent scheduler.
type SubagentConfig struct {
	MaxDepth          int `yaml:"max_depth"`
	MaxConcurrent     int `yaml:"max_concurrent"`
	MaxTotalSubagents int `yaml:"max_total_subagents"`
	MaxParallelTasks  int `yaml:"max_parallel_tasks"`
}

// ApprovalConfig controls the default approval policy profile.
type ApprovalConfig struct {
	Profile string `yaml:"profile"` // minimal, coding, messaging, full
	AskMode bool   `yaml:"ask_mode"`
}

// Config is the top-level harness configuration document.
type Config struct {
	Model      string           `yaml:"model"`
	Workspace  string           `yaml:"workspace"`
	Log        LogConfig        `yaml:"log"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Subagents  SubagentConfig   `yaml:"subagents"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Database   DatabaseConfig   `yaml:"database"`
}

// LogConfig mirrors logging.Config's shape in yaml-tagged form.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the fsbackend.GORMBackend driver.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Model:     "claude-sonnet-4",
		Workspace: ".",
		Log:       LogConfig{Level: "info", Format: "console"},
		Guardrails: GuardrailsConfig{
			MaxSteps:       50,
			MaxTokens:      100000,
			MaxWallSeconds: 600,
			MaxParallel:    4,
			SoftTrimRatio:  0.7,
			HardClearRatio: 0.85,
		},
		Subagents: SubagentConfig{
			MaxDepth:          3,
			MaxConcurrent:     5,
			MaxTotalSubagents: 20,
			MaxParallelTasks:  5,
		},
		Approval: ApprovalConfig{Profile: "coding", AskMode: true},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "file:harness.db"},
	}
}

// Load reads and parses a YAML config file, overlaying it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Watcher gives poll-free hot reload via fsnotify.
type Watcher struct {
	path   string
	mu     sync.RWMutex
	cfg    Config
	logger *zap.Logger
	onLoad func(Config)
}

// NewWatcher loads path immediately (falling back to defaults on error) and
// prepares a Watcher ready to Start().
func NewWatcher(path string, logger *zap.Logger) *Watcher {
	w := &Watcher{path: path, logger: logger.With(zap.String("component", "config-watcher"))}
	cfg, err := Load(path)
	if err != nil {
		w.logger.Warn("initial config load failed, using defaults", zap.String("path", path), zap.Error(err))
		cfg = Default()
	}
	w.cfg = cfg
	return w
}

// Config returns the current configuration (thread-safe).
func (w *Watcher) Config() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// OnLoad registers a callback invoked with the new config after every reload.
func (w *Watcher) OnLoad(fn func(Config)) {
	w.onLoad = fn
}

// Start adds the config file to fsWatch and reloads on every write or
// create event. It returns right after starting a background goroutine;
// there is no Stop, and reloading continues until fsWatch's event channel
// is closed.
func (w *Watcher) Start(fsWatch FSWatcher) error {
	if err := fsWatch.Add(w.path); err != nil {
		return fmt.Errorf("watch config %s: %w", w.path, err)
	}
	go func() {
		for event := range fsWatch.Events() {
			if !event.IsWrite() && !event.IsCreate() {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed", zap.Error(err))
				continue
			}
			w.mu.Lock()
			w.cfg = cfg
			w.mu.Unlock()
			w.logger.Info("config reloaded", zap.String("path", w.path), zap.String("model", cfg.Model))
			if w.onLoad != nil {
				w.onLoad(cfg)
			}
		}
	}()
	return nil
}

// FSWatchEvent is the minimal fsnotify.Event surface the watcher depends on,
// so tests can fake it without touching a real filesystem.
type FSWatchEvent interface {
	IsWrite() bool
	IsCreate() bool
}

// FSWatcher is the minimal fsnotify.Watcher surface Start depends on.
type FSWatcher interface {
	Add(path string) error
	Events() <-chan FSWatchEvent
}
