package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func (m *Manager) load() error {
	if m.configPath == "" {
		return os.ErrNotExist
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	config := defaultConfig()
	ext := strings.ToLower(filepath.Ext(m.configPath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			if err := json.Unmarshal(data, config); err != nil {
				return fmt.Errorf("failed to parse config file (tried YAML and JSON)")
			}
		}
	}

	if info, err := os.Stat(m.configPath); err == nil {
		m.lastMod = info.ModTime()
	}

	m.config = config
	log.WithField("path", m.configPath).Info("configuration loaded")

	return nil
}
