package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fatura2parasut-go/internal/events"

	log "github.com/sirupsen/logrus"
)

// Manager manages the configuration file and hot reload.
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	stopCh     chan struct{}
	stopOnce   sync.Once
	onChange   []func(*Config)
	lastMod    time.Time
	publisher  events.Publisher
}

// NewManager creates a new configuration manager. An empty path searches the
// usual locations and falls back to defaults when nothing is found.
func NewManager(configPath string) (*Manager, error) {
	if configPath == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			"config.json",
			filepath.Join(os.Getenv("HOME"), ".fatura2parasut", "config.yaml"),
			filepath.Join(os.Getenv("HOME"), ".fatura2parasut", "config.yml"),
			"/etc/fatura2parasut/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				configPath = loc
				break
			}
		}
	}

	if strings.HasPrefix(configPath, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, configPath[1:])
	}

	m := &Manager{
		configPath: configPath,
		stopCh:     make(chan struct{}),
		onChange:   make([]func(*Config), 0),
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) || configPath == "" {
			m.config = defaultConfig()
			log.WithField("path", configPath).Warn("using default configuration (no config file found)")
		} else {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	m.mergeEnvVars()

	if m.configPath != "" {
		if _, err := os.Stat(m.configPath); err == nil {
			m.startWatcher()
		}
	}

	return m, nil
}

// OnChange registers a callback for configuration changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// SetEventPublisher wires the event hub used to broadcast config updates.
func (m *Manager) SetEventPublisher(p events.Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

// GetConfig returns a copy of the current configuration.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return defaultConfig()
	}

	config := *m.config
	return &config
}

// Close stops the configuration manager.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) listenersSnapshot() ([]func(*Config), events.Publisher, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	callbacks := make([]func(*Config), len(m.onChange))
	copy(callbacks, m.onChange)
	return callbacks, m.publisher, m.configPath
}

func (m *Manager) emitChange(oldCfg, newCfg *Config) {
	callbacks, publisher, path := m.listenersSnapshot()

	for _, fn := range callbacks {
		fn(newCfg)
	}

	if publisher != nil && newCfg != nil {
		event := ChangeEvent{
			Path:      path,
			UpdatedAt: time.Now().UTC(),
			Config:    *newCfg,
		}
		if oldCfg != nil {
			prev := *oldCfg
			event.Previous = &prev
		}
		publisher.Publish(context.Background(), events.TopicConfigUpdated, event, nil)
	}
}

// ChangeEvent is the payload broadcast when configuration changes.
type ChangeEvent struct {
	Path      string    `json:"path"`
	UpdatedAt time.Time `json:"updated_at"`
	Config    Config    `json:"config"`
	Previous  *Config   `json:"previous,omitempty"`
}
