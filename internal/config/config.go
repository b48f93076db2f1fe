package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	Proxy     ProxyConfig       `yaml:"proxy"`
	Target    TargetConfig      `yaml:"target"`
	API       APIConfig         `yaml:"api"`
	Variables map[string]string `yaml:"variables"`
}

// ProxyConfig selects the client-facing protocol engine and its listen
// address.
type ProxyConfig struct {
	DBType string `yaml:"db_type" json:"db_type"`
	Bind   string `yaml:"bind" json:"bind"`
	Port   int    `yaml:"port" json:"port"`
}

// TargetConfig holds the backend database coordinates.
type TargetConfig struct {
	DBType   string `yaml:"db_type" json:"db_type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password,omitempty"`
}

// APIConfig holds the management HTTP surface address.
type APIConfig struct {
	Bind string `yaml:"bind" json:"bind"`
	Port int    `yaml:"port" json:"port"`
}

// Redacted returns a copy of the TargetConfig with the password masked.
func (t TargetConfig) Redacted() TargetConfig {
	c := t
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Proxy.Bind == "" {
		cfg.Proxy.Bind = "0.0.0.0"
	}
	if cfg.Proxy.Port == 0 {
		// Defaults avoid colliding with a local real MySQL on 3306.
		if cfg.Proxy.DBType == "mysql" {
			cfg.Proxy.Port = 3307
		} else {
			cfg.Proxy.Port = 5432
		}
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1"
	}
	if cfg.Target.DBType == "" {
		cfg.Target.DBType = cfg.Proxy.DBType
	}
	if cfg.Target.Port == 0 {
		if cfg.Target.DBType == "mysql" {
			cfg.Target.Port = 3306
		} else {
			cfg.Target.Port = 5432
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Proxy.DBType != "mysql" && cfg.Proxy.DBType != "postgresql" {
		return fmt.Errorf("proxy: unsupported db_type %q (must be mysql or postgresql)", cfg.Proxy.DBType)
	}
	if t := cfg.Target.DBType; t != "" && t != "mysql" && t != "postgres" && t != "postgresql" {
		return fmt.Errorf("target: unsupported db_type %q (must be mysql or postgres)", t)
	}
	if cfg.Target.Host == "" {
		return fmt.Errorf("target: host is required")
	}
	if cfg.Target.Username == "" {
		return fmt.Errorf("target: username is required")
	}
	if cfg.Target.Database == "" {
		return fmt.Errorf("target: database is required")
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
