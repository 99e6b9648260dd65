package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Mail delivery modes.
const (
	MailDirect = "direct"
	MailOutbox = "outbox"
)

// ToolSeed is a licensed tool registered at startup.
type ToolSeed struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS string
}

// Config is the resolved runtime configuration for the license service.
type Config struct {
	ServiceID string
	LogLevel  string

	HTTPPort int
	GRPCPort int

	StorageDriver string
	DatabaseURL   string
	RedisURL      string
	MaxDBConns    int32

	BcryptCost  int
	TOTPSkew    uint
	TokenLeeway time.Duration

	TokenTTL               time.Duration
	TrialGrace             time.Duration
	ReminderThreshold      time.Duration
	RebindCooldown         time.Duration
	EmailCodeTTL           time.Duration
	CodeFailureThreshold   int
	CodeLockoutDuration    time.Duration
	EmailCodeSendThreshold int
	EmailCodeSendWindow    time.Duration

	HTTPRateLimitRPS   float64
	HTTPRateLimitBurst int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int

	KafkaBrokers []string
	KafkaTopics  map[string]string

	MailDelivery string
	SMTP         SMTPConfig

	Tools []ToolSeed
}

// configFile mirrors the YAML schema used by configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`
	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	License struct {
		TokenTTL          time.Duration `yaml:"token_ttl"`
		TrialGrace        time.Duration `yaml:"trial_grace"`
		ReminderThreshold time.Duration `yaml:"reminder_threshold"`
		RebindCooldown    time.Duration `yaml:"rebind_cooldown"`
		EmailCodeTTL      time.Duration `yaml:"email_code_ttl"`
		TOTPSkew          *uint         `yaml:"totp_skew"`
	} `yaml:"license"`
	Throttle struct {
		CodeFailureThreshold   int           `yaml:"code_failure_threshold"`
		CodeLockout            time.Duration `yaml:"code_lockout"`
		EmailCodeSendThreshold int           `yaml:"email_code_send_threshold"`
		EmailCodeSendWindow    time.Duration `yaml:"email_code_send_window"`
		HTTPRateLimitRPS       float64       `yaml:"http_rate_limit_rps"`
		HTTPRateLimitBurst     int           `yaml:"http_rate_limit_burst"`
	} `yaml:"throttle"`
	Events struct {
		Topics map[string]string `yaml:"topics"`
	} `yaml:"events"`
	Mail struct {
		Delivery string `yaml:"delivery"`
		SMTP     struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Username string `yaml:"username"`
			From     string `yaml:"from"`
			StartTLS string `yaml:"starttls"`
		} `yaml:"smtp"`
	} `yaml:"mail"`
	Tools []ToolSeed `yaml:"tools"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:              "M91-License-Service",
		LogLevel:               "info",
		HTTPPort:               8080,
		GRPCPort:               9090,
		StorageDriver:          StoragePostgres,
		MaxDBConns:             20,
		BcryptCost:             10,
		TOTPSkew:               1,
		TokenLeeway:            5 * time.Second,
		TokenTTL:               time.Hour,
		TrialGrace:             5 * time.Minute,
		ReminderThreshold:      5 * time.Minute,
		RebindCooldown:         24 * time.Hour,
		EmailCodeTTL:           10 * time.Minute,
		CodeFailureThreshold:   5,
		CodeLockoutDuration:    15 * time.Minute,
		EmailCodeSendThreshold: 5,
		EmailCodeSendWindow:    10 * time.Minute,
		HTTPRateLimitRPS:       10,
		HTTPRateLimitBurst:     20,
		OutboxPollInterval:     2 * time.Second,
		OutboxBatchSize:        100,
		OutboxClaimTTL:         30 * time.Second,
		OutboxMaxRetries:       5,
		KafkaTopics:            map[string]string{},
		MailDelivery:           MailDirect,
		SMTP:                   SMTPConfig{Port: 587, StartTLS: "mandatory"},
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		applyFile(&cfg, f)
	}

	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver)))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.BcryptCost = envInt("BCRYPT_ROUNDS", cfg.BcryptCost)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))

	cfg.TokenTTL = time.Duration(envInt("TOKEN_TTL_SECONDS", int(cfg.TokenTTL.Seconds()))) * time.Second
	cfg.TrialGrace = time.Duration(envInt("TRIAL_GRACE_SECONDS", int(cfg.TrialGrace.Seconds()))) * time.Second
	cfg.RebindCooldown = time.Duration(envInt("REBIND_COOLDOWN_HOURS", int(cfg.RebindCooldown.Hours()))) * time.Hour
	cfg.EmailCodeTTL = time.Duration(envInt("EMAIL_CODE_TTL_SECONDS", int(cfg.EmailCodeTTL.Seconds()))) * time.Second
	cfg.CodeFailureThreshold = envInt("CODE_FAILURE_THRESHOLD", cfg.CodeFailureThreshold)
	cfg.CodeLockoutDuration = time.Duration(envInt("CODE_LOCKOUT_MINUTES", int(cfg.CodeLockoutDuration.Minutes()))) * time.Minute
	cfg.EmailCodeSendThreshold = envInt("EMAIL_CODE_SEND_THRESHOLD", cfg.EmailCodeSendThreshold)
	cfg.HTTPRateLimitRPS = envFloat("HTTP_RATE_LIMIT_RPS", cfg.HTTPRateLimitRPS)
	cfg.HTTPRateLimitBurst = envInt("HTTP_RATE_LIMIT_BURST", cfg.HTTPRateLimitBurst)

	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	cfg.MailDelivery = strings.ToLower(strings.TrimSpace(envOrDefault("MAIL_DELIVERY", cfg.MailDelivery)))
	cfg.SMTP.Host = envOrDefault("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = envInt("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.Username = envOrDefault("SMTP_USERNAME", cfg.SMTP.Username)
	cfg.SMTP.Password = envOrDefault("SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.From = envOrDefault("SMTP_FROM", cfg.SMTP.From)
	cfg.SMTP.StartTLS = envOrDefault("SMTP_STARTTLS", cfg.SMTP.StartTLS)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Service.LogLevel != "" {
		cfg.LogLevel = f.Service.LogLevel
	}
	if f.Storage.Driver != "" {
		cfg.StorageDriver = f.Storage.Driver
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}

	setDuration(&cfg.TokenTTL, f.License.TokenTTL)
	setDuration(&cfg.TrialGrace, f.License.TrialGrace)
	setDuration(&cfg.ReminderThreshold, f.License.ReminderThreshold)
	setDuration(&cfg.RebindCooldown, f.License.RebindCooldown)
	setDuration(&cfg.EmailCodeTTL, f.License.EmailCodeTTL)
	if f.License.TOTPSkew != nil {
		cfg.TOTPSkew = *f.License.TOTPSkew
	}

	if f.Throttle.CodeFailureThreshold > 0 {
		cfg.CodeFailureThreshold = f.Throttle.CodeFailureThreshold
	}
	setDuration(&cfg.CodeLockoutDuration, f.Throttle.CodeLockout)
	if f.Throttle.EmailCodeSendThreshold > 0 {
		cfg.EmailCodeSendThreshold = f.Throttle.EmailCodeSendThreshold
	}
	setDuration(&cfg.EmailCodeSendWindow, f.Throttle.EmailCodeSendWindow)
	if f.Throttle.HTTPRateLimitRPS > 0 {
		cfg.HTTPRateLimitRPS = f.Throttle.HTTPRateLimitRPS
	}
	if f.Throttle.HTTPRateLimitBurst > 0 {
		cfg.HTTPRateLimitBurst = f.Throttle.HTTPRateLimitBurst
	}

	for eventType, topic := range f.Events.Topics {
		cfg.KafkaTopics[eventType] = topic
	}

	if f.Mail.Delivery != "" {
		cfg.MailDelivery = f.Mail.Delivery
	}
	if f.Mail.SMTP.Host != "" {
		cfg.SMTP.Host = f.Mail.SMTP.Host
	}
	if f.Mail.SMTP.Port > 0 {
		cfg.SMTP.Port = f.Mail.SMTP.Port
	}
	if f.Mail.SMTP.Username != "" {
		cfg.SMTP.Username = f.Mail.SMTP.Username
	}
	if f.Mail.SMTP.From != "" {
		cfg.SMTP.From = f.Mail.SMTP.From
	}
	if f.Mail.SMTP.StartTLS != "" {
		cfg.SMTP.StartTLS = f.Mail.SMTP.StartTLS
	}

	if len(f.Tools) > 0 {
		cfg.Tools = f.Tools
	}
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DB_URL/POSTGRES_URL")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	switch c.MailDelivery {
	case MailDirect, MailOutbox:
	default:
		return fmt.Errorf("unsupported mail delivery %q", c.MailDelivery)
	}
	if c.MailDelivery == MailOutbox && c.StorageDriver == StorageMemory {
		return fmt.Errorf("mail delivery %q requires the postgres storage driver", MailOutbox)
	}
	for _, tool := range c.Tools {
		if strings.TrimSpace(tool.Code) == "" {
			return fmt.Errorf("tool seed with empty code")
		}
	}
	return nil
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
