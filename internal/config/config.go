package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// MaxCredentialSlots is the number of GEMINI_API_KEY_n environment entries consulted.
const MaxCredentialSlots = 5

// DatabaseConfig holds the database connection information.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// RedisConfig holds the connection settings for the redis quota backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QuotaConfig controls the per-user daily generation limit.
type QuotaConfig struct {
	Backend    string      `yaml:"backend"`
	DailyLimit int         `yaml:"daily_limit"`
	Redis      RedisConfig `yaml:"redis"`
}

// GeminiConfig holds everything needed to talk to the generative service.
type GeminiConfig struct {
	APIKeys         []string `yaml:"api_keys"`
	Model           string   `yaml:"model"`
	Temperature     float32  `yaml:"temperature"`
	MaxOutputTokens int32    `yaml:"max_output_tokens"`
	RetryBackoff    string   `yaml:"retry_backoff"`
	PollInterval    string   `yaml:"poll_interval"`
	MaxPolls        int      `yaml:"max_polls"`
}

// LimitsConfig holds the input ceilings enforced on generation requests.
type LimitsConfig struct {
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	MaxTextChars int   `yaml:"max_text_chars"`
}

// AuthConfig holds the identity settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// AdminConfig holds configuration for the admin panel.
type AdminConfig struct {
	Password string `yaml:"password"`
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	UsageReportSpec string `yaml:"usage_report_spec"`
}

// Config holds the configuration for the generation gateway.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Quota     QuotaConfig     `yaml:"quota"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Limits    LimitsConfig    `yaml:"limits"`
	Auth      AuthConfig      `yaml:"auth"`
	Admin     AdminConfig     `yaml:"admin"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Port      int             `yaml:"port"`
	Debug     bool            `yaml:"debug"`
	LogLevel  string          `yaml:"log_level"`
}

// RetryBackoffDuration returns the parsed pause between the two rotation passes.
func (g GeminiConfig) RetryBackoffDuration() time.Duration {
	d, _ := time.ParseDuration(g.RetryBackoff)
	return d
}

// PollIntervalDuration returns the parsed file-status poll interval.
func (g GeminiConfig) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(g.PollInterval)
	return d
}

// LoadConfig reads and parses the configuration file. It returns the config and potential warning messages.
var LoadConfig = func(path string) (*Config, []string, error) {
	var config Config
	var warnings []string

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	// A missing file is fine: defaults and environment variables take over.

	applyEnvOverrides(&config)
	warnings = applyDefaults(&config)

	if keys := credentialsFromEnv(); len(keys) > 0 {
		config.Gemini.APIKeys = keys
	}
	if len(config.Gemini.APIKeys) == 0 {
		warnings = append(warnings, "no Gemini API keys configured; generation endpoints will answer 500")
	}

	if err := validate(&config); err != nil {
		return nil, nil, err
	}
	return &config, warnings, nil
}

func applyEnvOverrides(config *Config) {
	if dsn := os.Getenv("STUDYGEN_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dbType := os.Getenv("STUDYGEN_DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if port := os.Getenv("STUDYGEN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if password := os.Getenv("STUDYGEN_ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if secret := os.Getenv("STUDYGEN_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if backend := os.Getenv("STUDYGEN_QUOTA_BACKEND"); backend != "" {
		config.Quota.Backend = backend
	}
	if addr := os.Getenv("STUDYGEN_REDIS_ADDR"); addr != "" {
		config.Quota.Redis.Addr = addr
	}
	if limit := os.Getenv("STUDYGEN_DAILY_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.Quota.DailyLimit = l
		}
	}
	if debug := os.Getenv("STUDYGEN_DEBUG"); debug != "" {
		config.Debug = (debug == "true")
	}
}

func applyDefaults(config *Config) []string {
	var warnings []string
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Database.Type == "" {
		config.Database.Type = "sqlite"
	}
	if config.Database.DSN == "" && config.Database.Type == "sqlite" {
		config.Database.DSN = "studygen.db"
	}
	if config.Quota.Backend == "" {
		config.Quota.Backend = "database"
	}
	if config.Quota.DailyLimit == 0 {
		config.Quota.DailyLimit = 10
		warnings = append(warnings, "quota.daily_limit not set, using default value of 10")
	}
	if config.Gemini.Model == "" {
		config.Gemini.Model = "gemini-2.0-flash"
	}
	if config.Gemini.Temperature == 0 {
		config.Gemini.Temperature = 0.2
	}
	if config.Gemini.MaxOutputTokens == 0 {
		config.Gemini.MaxOutputTokens = 8192
	}
	if config.Gemini.RetryBackoff == "" {
		config.Gemini.RetryBackoff = "2s"
	}
	if config.Gemini.PollInterval == "" {
		config.Gemini.PollInterval = "1s"
	}
	if config.Gemini.MaxPolls == 0 {
		config.Gemini.MaxPolls = 120
	}
	if config.Limits.MaxFileBytes == 0 {
		config.Limits.MaxFileBytes = 10 << 20
	}
	if config.Limits.MaxTextChars == 0 {
		config.Limits.MaxTextChars = 50000
	}
	if config.Scheduler.UsageReportSpec == "" {
		config.Scheduler.UsageReportSpec = "@daily"
	}
	if config.Auth.JWTSecret == "" {
		warnings = append(warnings, "auth.jwt_secret not set; every caller will be treated as anonymous")
	}
	return warnings
}

func validate(config *Config) error {
	if config.Database.DSN == "" {
		return fmt.Errorf("database dsn must be configured in config.yaml or via environment variables")
	}
	switch config.Quota.Backend {
	case "database":
	case "redis":
		if config.Quota.Redis.Addr == "" {
			return fmt.Errorf("quota.redis.addr is required when quota.backend is redis")
		}
	default:
		return fmt.Errorf("unsupported quota backend: %s", config.Quota.Backend)
	}
	if config.Quota.DailyLimit < 0 {
		return fmt.Errorf("quota.daily_limit must not be negative")
	}
	if _, err := time.ParseDuration(config.Gemini.RetryBackoff); err != nil {
		return fmt.Errorf("invalid gemini.retry_backoff: %w", err)
	}
	if _, err := time.ParseDuration(config.Gemini.PollInterval); err != nil {
		return fmt.Errorf("invalid gemini.poll_interval: %w", err)
	}
	return nil
}

// credentialsFromEnv reads GEMINI_API_KEY_1..MaxCredentialSlots in order, skipping unset slots.
func credentialsFromEnv() []string {
	var keys []string
	for i := 1; i <= MaxCredentialSlots; i++ {
		if key := strings.TrimSpace(os.Getenv(fmt.Sprintf("GEMINI_API_KEY_%d", i))); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
