package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendGitHub   = "github"
	BackendFS       = "fs"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	// Где лежат тикеты: github (по умолчанию), fs, memory, postgres.
	StoreBackend string
	StoreDir     string
	StoreTimeout time.Duration

	GitHub struct {
		Token       string
		Owner       string
		Repo        string
		Branch      string
		APIURL      string
		ReadRetries uint64
	}

	SMTP struct {
		Host     string
		Port     int
		User     string
		Password string
		FromName string
	}
	SupportInbox   string
	TicketLinkBase string

	AdminSecretKey string
	StaffSecretKey string

	// Токены сотрудников включаются, только если задан StaffTokenSecret.
	StaffTokenSecret string
	StaffTokenTTL    time.Duration
	RevokedStaffIDs  []string

	CORSAllowedOrigins []string

	// KafkaBrokers и KafkaTopicTicket — если заданы, события тикетов уходят в Kafka.
	KafkaBrokers     []string
	KafkaTopicTicket string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:          getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:         firstEnv("APP_PORT", "HTTP_PORT", "5000"),
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", BackendGitHub)),
		StoreDir:         getEnv("STORE_DIR", "./data"),
		SupportInbox:     getEnv("SUPPORT_INBOX", ""),
		TicketLinkBase:   getEnv("TICKET_LINK_BASE", ""),
		AdminSecretKey:   getEnv("ADMIN_SECRET_KEY", ""),
		StaffSecretKey:   getEnv("STAFF_SECRET_KEY", ""),
		KafkaTopicTicket: getEnv("KAFKA_TOPIC_TICKET", "helpdesk.tickets"),
	}

	var err error
	if cfg.StoreTimeout, err = time.ParseDuration(getEnv("STORE_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("config: STORE_TIMEOUT: %w", err)
	}

	cfg.StaffTokenSecret = getEnv("STAFF_TOKEN_SECRET", "")
	if cfg.StaffTokenTTL, err = time.ParseDuration(getEnv("STAFF_TOKEN_TTL", "12h")); err != nil {
		return nil, fmt.Errorf("config: STAFF_TOKEN_TTL: %w", err)
	}
	cfg.RevokedStaffIDs = splitList(getEnv("REVOKED_STAFF_IDS", ""))

	cfg.GitHub.Token = getEnv("GITHUB_TOKEN", "")
	cfg.GitHub.Owner = getEnv("GITHUB_REPO_OWNER", "")
	cfg.GitHub.Repo = getEnv("GITHUB_REPO_NAME", "")
	cfg.GitHub.Branch = getEnv("GITHUB_BRANCH", "")
	cfg.GitHub.APIURL = getEnv("GITHUB_API_URL", "")
	if cfg.GitHub.ReadRetries, err = strconv.ParseUint(getEnv("GITHUB_READ_RETRIES", "3"), 10, 32); err != nil {
		return nil, fmt.Errorf("config: GITHUB_READ_RETRIES: %w", err)
	}

	cfg.SMTP.Host = getEnv("SUPPORT_SYSTEM_SMTP_HOST", "")
	if cfg.SMTP.Port, err = strconv.Atoi(getEnv("SUPPORT_SYSTEM_SMTP_PORT", "465")); err != nil {
		return nil, fmt.Errorf("config: SUPPORT_SYSTEM_SMTP_PORT: %w", err)
	}
	cfg.SMTP.User = getEnv("SUPPORT_SYSTEM_SMTP_USER", "")
	cfg.SMTP.Password = getEnv("SUPPORT_SYSTEM_SMTP_PASS", "")
	cfg.SMTP.FromName = getEnv("SUPPORT_FROM_NAME", "Support Team")

	cfg.CORSAllowedOrigins = splitList(getEnv("CORS_ALLOWED_ORIGINS", ""))
	cfg.KafkaBrokers = splitList(getEnv("KAFKA_BROKERS", ""))

	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "helpdesk_service")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

// Validate проверяет настройки, без которых сервис не может работать.
func (c *Config) Validate() error {
	var problems []error
	switch c.StoreBackend {
	case BackendGitHub:
		if c.GitHub.Token == "" || c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			problems = append(problems, errors.New("GITHUB_TOKEN, GITHUB_REPO_OWNER and GITHUB_REPO_NAME are required for the github backend"))
		}
	case BackendFS:
		if c.StoreDir == "" {
			problems = append(problems, errors.New("STORE_DIR is required for the fs backend"))
		}
	case BackendPostgres:
		problems = append(problems, c.ValidateDB())
	case BackendMemory:
		if c.AppEnv == "production" {
			problems = append(problems, errors.New("the memory backend is not allowed in production"))
		}
	default:
		problems = append(problems, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.AdminSecretKey == "" || c.StaffSecretKey == "" {
		problems = append(problems, errors.New("ADMIN_SECRET_KEY and STAFF_SECRET_KEY are required"))
	}
	if c.TicketLinkBase == "" {
		problems = append(problems, errors.New("TICKET_LINK_BASE is required"))
	} else if u, err := url.Parse(c.TicketLinkBase); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Errorf("TICKET_LINK_BASE %q is not an absolute URL", c.TicketLinkBase))
	}
	if err := errors.Join(problems...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ValidateDB проверяет только настройки Postgres (для migrate).
func (c *Config) ValidateDB() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("in production DB_PASSWORD is required")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

// Без SMTP хоста письма не отправляются.
func (c *Config) MailEnabled() bool {
	return c.SMTP.Host != ""
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
