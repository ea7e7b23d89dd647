package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	MessagesModeLocal    = "local"
	MessagesModeArtifact = "artifact"

	DeliveryGmail = "gmail"
	DeliverySMTP  = "smtp"
)

type Config struct {
	Port         int
	APIToken     string
	LogLevel     string
	ReportEmail  string
	AnalysisDays int

	GmailEnabled      bool
	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string

	OutlookEnabled      bool
	OutlookClientID     string
	OutlookTenantID     string
	OutlookRefreshToken string

	MessagesEnabled       bool
	MessagesMode          string
	MessagesDBPath        string
	MessagesIncludeGroups bool
	MessagesMinResponse   time.Duration
	MessagesMaxResponse   time.Duration

	GitHubToken       string
	MessagesGistID    string
	MessagesStatePath string
	ArtifactMaxAge    time.Duration

	DeliveryMethod string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	SMTPFrom       string

	DatabaseURL   string
	NatsURL       string
	NatsToken     string
	SlackBotToken string
	SlackChannel  string
}

func Load() Config {
	return Config{
		Port:         envInt("REPLYCLOCK_PORT", 8760),
		APIToken:     envStr("REPLYCLOCK_API_TOKEN", ""),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		ReportEmail:  envStr("REPORT_EMAIL", ""),
		AnalysisDays: envInt("ANALYSIS_DAYS", 30),

		GmailEnabled:      envBool("GMAIL_ENABLED", true),
		GmailClientID:     envStr("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: envStr("GMAIL_CLIENT_SECRET", ""),
		GmailRefreshToken: envStr("GMAIL_REFRESH_TOKEN", ""),

		OutlookEnabled:      envBool("OUTLOOK_ENABLED", false),
		OutlookClientID:     envStr("OUTLOOK_CLIENT_ID", ""),
		OutlookTenantID:     envStr("OUTLOOK_TENANT_ID", "common"),
		OutlookRefreshToken: envStr("OUTLOOK_REFRESH_TOKEN", ""),

		MessagesEnabled:       envBool("MESSAGES_ENABLED", false),
		MessagesMode:          envStr("MESSAGES_MODE", MessagesModeArtifact),
		MessagesDBPath:        ExpandHome(envStr("MESSAGES_DB_PATH", "~/Library/Messages/chat.db")),
		MessagesIncludeGroups: envBool("MESSAGES_INCLUDE_GROUPS", false),
		MessagesMinResponse:   envDuration("MESSAGES_MIN_RESPONSE", time.Second),
		MessagesMaxResponse:   envDuration("MESSAGES_MAX_RESPONSE", 7*24*time.Hour),

		GitHubToken:       envStr("GITHUB_TOKEN", ""),
		MessagesGistID:    envStr("MESSAGES_GIST_ID", ""),
		MessagesStatePath: ExpandHome(envStr("MESSAGES_STATE_PATH", "~/.replyclock/messages-state.json")),
		ArtifactMaxAge:    envDuration("ARTIFACT_MAX_AGE", 48*time.Hour),

		DeliveryMethod: envStr("DELIVERY_METHOD", DeliveryGmail),
		SMTPHost:       envStr("SMTP_HOST", ""),
		SMTPPort:       envInt("SMTP_PORT", 587),
		SMTPUsername:   envStr("SMTP_USERNAME", ""),
		SMTPPassword:   envStr("SMTP_PASSWORD", ""),
		SMTPFrom:       envStr("SMTP_FROM", ""),

		DatabaseURL:   envStr("DATABASE_URL", ""),
		NatsURL:       envStr("NATS_URL", ""),
		NatsToken:     envStr("NATS_TOKEN", ""),
		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_CHANNEL", ""),
	}
}

// Validate checks the settings a report run depends on. Missing credentials
// for an enabled source are not an error here; that source simply fails at
// fetch time and is left out of the report.
func (c Config) Validate() error {
	var errs []error
	if c.AnalysisDays < 28 {
		errs = append(errs, fmt.Errorf("ANALYSIS_DAYS must be at least 28 to fill the widest window, got %d", c.AnalysisDays))
	}
	if !c.GmailEnabled && !c.OutlookEnabled && !c.MessagesEnabled {
		errs = append(errs, errors.New("no sources enabled"))
	}
	switch c.MessagesMode {
	case MessagesModeLocal, MessagesModeArtifact:
	default:
		errs = append(errs, fmt.Errorf("MESSAGES_MODE must be %q or %q, got %q", MessagesModeLocal, MessagesModeArtifact, c.MessagesMode))
	}
	if c.MessagesMinResponse < 0 || (c.MessagesMaxResponse > 0 && c.MessagesMaxResponse < c.MessagesMinResponse) {
		errs = append(errs, fmt.Errorf("invalid messages response bounds %s..%s", c.MessagesMinResponse, c.MessagesMaxResponse))
	}
	switch c.DeliveryMethod {
	case DeliveryGmail:
	case DeliverySMTP:
		if c.SMTPHost == "" {
			errs = append(errs, errors.New("SMTP_HOST is required for smtp delivery"))
		}
	default:
		errs = append(errs, fmt.Errorf("DELIVERY_METHOD must be %q or %q, got %q", DeliveryGmail, DeliverySMTP, c.DeliveryMethod))
	}
	return errors.Join(errs...)
}

// ArtifactMode reports whether Messages stats come from the shared artifact
// rather than a local database.
func (c Config) ArtifactMode() bool {
	return c.MessagesEnabled && c.MessagesMode == MessagesModeArtifact
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
