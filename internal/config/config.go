package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/logger"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in the backend setting
const (
	BackendAuto       = "auto"
	BackendX11        = "x11"
	BackendPortal     = "portal"
	BackendScreenshot = "screenshot"
)

// Backends lists every valid backend setting
var Backends = []string{BackendAuto, BackendX11, BackendPortal, BackendScreenshot}

// Config represents the application configuration
type Config struct {
	LogLevel     string                   `json:"log_level" yaml:"log_level"`
	Backend      string                   `json:"backend" yaml:"backend"`
	StartTimeout time.Duration            `json:"start_timeout" yaml:"start_timeout"`
	Capture      capture.Configuration    `json:"capture" yaml:"capture"`
	Discovery    capture.DiscoveryOptions `json:"discovery" yaml:"discovery"`
	Portal       PortalConfig             `json:"portal" yaml:"portal"`
	API          APIConfig                `json:"api" yaml:"api"`
}

// PortalConfig configures the ScreenCast portal backend
type PortalConfig struct {
	// PersistPermission keeps the restore token so the share dialog is skipped next run
	PersistPermission bool   `json:"persist_permission" yaml:"persist_permission"`
	TokenPath         string `json:"token_path,omitempty" yaml:"token_path,omitempty"`
}

// APIConfig configures the optional status API. Port 0 disables it.
type APIConfig struct {
	Port int `json:"port" yaml:"port"`
}

// Defaults returns the configuration used when no file exists
func Defaults() Config {
	return Config{
		LogLevel:     "info",
		Backend:      BackendAuto,
		StartTimeout: capture.DefaultStartTimeout,
		Capture:      capture.DefaultConfiguration(),
		Discovery:    capture.DiscoveryOptions{},
		Portal:       PortalConfig{PersistPermission: true},
	}
}

// Validate checks settings that cannot be corrected silently
func (c Config) Validate() error {
	valid := false
	for _, b := range Backends {
		if c.Backend == b {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown backend %q (want one of %s)", c.Backend, strings.Join(Backends, ", "))
	}
	if c.StartTimeout < 0 {
		return fmt.Errorf("start_timeout must not be negative")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	return c.Capture.Validate()
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	fromFile   bool
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/screenshare/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "screenshare", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing
// file yields defaults and is not created.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	m := &Manager{configPath: path}
	log := logger.WithComponent("config")

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Debug().Str("path", m.configPath).Msg("Config file not found, using defaults")
		cfg := Defaults()
		m.config = &cfg
		return m, nil
	}

	log.Info().
		Str("path", m.configPath).
		Str("backend", m.config.Backend).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk. Keys absent from the file keep their defaults.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendAuto
	}
	cfg.Backend = strings.ToLower(cfg.Backend)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.config = &cfg
	m.fromFile = true
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// FromFile reports whether the configuration was read from disk
func (m *Manager) FromFile() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fromFile
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := *m.config
	m.mu.RUnlock()

	log := logger.WithComponent("config")

	// Ensure the directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	log.Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// The setters below change the in-memory configuration only; call Save to persist.

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.LogLevel = level
}

// SetBackend forces a backend by name
func (m *Manager) SetBackend(name string) error {
	name = strings.ToLower(name)
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := *m.config
	cfg.Backend = name
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config.Backend = name
	return nil
}

// SetStartTimeout sets the start acknowledgment timeout
func (m *Manager) SetStartTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.StartTimeout = d
}

// SetAPIPort sets the status API port; 0 disables the API
func (m *Manager) SetAPIPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.API.Port = port
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// PortalTokenPath returns where the portal restore token lives, or "" when
// persistence is off
func (m *Manager) PortalTokenPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.config.Portal.PersistPermission {
		return ""
	}
	if m.config.Portal.TokenPath != "" {
		return m.config.Portal.TokenPath
	}
	return filepath.Join(filepath.Dir(m.configPath), "portal_token")
}
