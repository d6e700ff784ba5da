// Package config reads the server's YAML configuration and watches it for
// changes. Only the sync section is hot-reloadable; listen address and
// database path are fixed for the process lifetime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML structure.
type Config struct {
	Server ServerConf `yaml:"server"`
	Sync   SyncConf   `yaml:"sync"`
}

// ServerConf holds process-lifetime settings.
type ServerConf struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`
}

// SyncConf controls the background reconciliation loop against a mirror.
type SyncConf struct {
	Enabled  bool     `yaml:"enabled"`
	Remote   string   `yaml:"remote"`
	Interval Duration `yaml:"interval"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"5m\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is given.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConf{
			Listen:  "127.0.0.1:5600",
			DataDir: filepath.Join(home, ".peakactivity"),
		},
		Sync: SyncConf{
			Enabled:  false,
			Interval: Duration(5 * time.Minute),
		},
	}
}

// Loader reads the config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file
// changes. Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					cfg, err := l.load()
					if err != nil {
						logrus.WithError(err).Warn("config reload failed, keeping previous config")
						continue
					}
					l.mu.Lock()
					l.current = cfg
					callbacks := append([]func(*Config){}, l.onChange...)
					l.mu.Unlock()
					logrus.WithField("path", l.path).Info("config reloaded")
					for _, fn := range callbacks {
						fn(cfg)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("config watcher error")
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }, nil
}

func (l *Loader) load() (*Config, error) {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", l.path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Server.DataDir == "" {
		return fmt.Errorf("server.data_dir must not be empty")
	}
	if c.Sync.Enabled && c.Sync.Remote == "" {
		return fmt.Errorf("sync.remote is required when sync.enabled is true")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	return nil
}
