package config

// Config represents the client configuration loaded from file.
type Config struct {
	// Backend settings
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// Logging
	Debug   bool   `yaml:"debug" json:"debug"`
	LogFile string `yaml:"log_file" json:"log_file"`

	// Request pipeline behavior
	RequestTimeoutSec int `yaml:"request_timeout_sec" json:"request_timeout_sec"`
	RetryMax          int `yaml:"retry_max" json:"retry_max"`
	RetryBaseMs       int `yaml:"retry_base_ms" json:"retry_base_ms"`
	RateLimitRPS      int `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst    int `yaml:"rate_limit_burst" json:"rate_limit_burst"`

	// Transport settings
	DialTimeoutSec           int `yaml:"dial_timeout_sec" json:"dial_timeout_sec"`
	TLSHandshakeTimeoutSec   int `yaml:"tls_handshake_timeout_sec" json:"tls_handshake_timeout_sec"`
	ResponseHeaderTimeoutSec int `yaml:"response_header_timeout_sec" json:"response_header_timeout_sec"`

	// Credential persistence
	StorageBackend string `yaml:"storage_backend" json:"storage_backend"`
	StorageBaseDir string `yaml:"storage_base_dir" json:"storage_base_dir"`
	RedisAddr      string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword  string `yaml:"redis_password" json:"redis_password"`
	RedisDB        int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix    string `yaml:"redis_prefix" json:"redis_prefix"`

	// Invoice behavior
	UploadMaxMB     int `yaml:"upload_max_mb" json:"upload_max_mb"`
	PollIntervalSec int `yaml:"poll_interval_sec" json:"poll_interval_sec"`
	PollMaxAttempts int `yaml:"poll_max_attempts" json:"poll_max_attempts"`
}

func defaultConfig() *Config {
	return &Config{
		APIBaseURL:               "http://localhost:8000",
		RequestTimeoutSec:        30,
		RetryMax:                 2,
		RetryBaseMs:              500,
		RateLimitRPS:             10,
		RateLimitBurst:           20,
		DialTimeoutSec:           10,
		TLSHandshakeTimeoutSec:   10,
		ResponseHeaderTimeoutSec: 30,
		StorageBackend:           "file",
		StorageBaseDir:           "~/.fatura2parasut",
		RedisPrefix:              "fatura2parasut:",
		UploadMaxMB:              10,
		PollIntervalSec:          3,
		PollMaxAttempts:          20,
	}
}
