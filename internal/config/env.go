package config

import (
	"os"
	"strconv"
	"strings"
)

// mergeEnvVars applies FATURA_* environment overrides on top of file values.
func (m *Manager) mergeEnvVars() {
	if m.config == nil {
		m.config = defaultConfig()
	}

	if v := os.Getenv("FATURA_API_BASE_URL"); v != "" {
		m.config.APIBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("FATURA_DEBUG"); v != "" {
		m.config.Debug = !(v == "false" || v == "0")
	}
	if v := os.Getenv("FATURA_LOG_FILE"); v != "" {
		m.config.LogFile = v
	}
	if v := os.Getenv("FATURA_REQUEST_TIMEOUT_SEC"); v != "" {
		if n, err := parseInt(v); err == nil {
			m.config.RequestTimeoutSec = n
		}
	}
	if v := os.Getenv("FATURA_RETRY_MAX"); v != "" {
		if n, err := parseInt(v); err == nil {
			m.config.RetryMax = n
		}
	}
	if v := os.Getenv("FATURA_RETRY_BASE_MS"); v != "" {
		if n, err := parseInt(v); err == nil {
			m.config.RetryBaseMs = n
		}
	}
	if v := os.Getenv("FATURA_RATE_LIMIT_RPS"); v != "" {
		if n, err := parseInt(v); err == nil {
			m.config.RateLimitRPS = n
		}
	}
	if v := os.Getenv("FATURA_RATE_LIMIT_BURST"); v != "" {
		if n, err := parseInt(v); err == nil {
			m.config.RateLimitBurst = n
		}
	}
	if v := os.Getenv("FATURA_STORAGE_BACKEND"); v != "" {
		m.config.StorageBackend = strings.ToLower(v)
	}
	if v := os.Getenv("FATURA_STORAGE_BASE_DIR"); v != "" {
		m.config.StorageBaseDir = v
	}
	if v := os.Getenv("FATURA_REDIS_ADDR"); v != "" {
		m.config.RedisAddr = v
	}
	if v := os.Getenv("FATURA_REDIS_PASSWORD"); v != "" {
		m.config.RedisPassword = v
	}
	if v := os.Getenv("FATURA_REDIS_DB"); v != "" {
		if n, err := parseInt(v); err == nil {
			m.config.RedisDB = n
		}
	}
	if v := os.Getenv("FATURA_REDIS_PREFIX"); v != "" {
		m.config.RedisPrefix = v
	}
	if v := os.Getenv("FATURA_UPLOAD_MAX_MB"); v != "" {
		if n, err := parseInt(v); err == nil {
			m.config.UploadMaxMB = n
		}
	}
	if v := os.Getenv("FATURA_POLL_INTERVAL_SEC"); v != "" {
		if n, err := parseInt(v); err == nil {
			m.config.PollIntervalSec = n
		}
	}
	if v := os.Getenv("FATURA_POLL_MAX_ATTEMPTS"); v != "" {
		if n, err := parseInt(v); err == nil {
			m.config.PollMaxAttempts = n
		}
	}
}

func parseInt(v string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(v))
}
