package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// fileConfig is the optional YAML file. Only static options live here;
// credentials stay in the environment.
type fileConfig struct {
	ReportEmail    *string `yaml:"report_email"`
	AnalysisDays   *int    `yaml:"analysis_days"`
	DeliveryMethod *string `yaml:"delivery_method"`
	Sources        struct {
		Gmail struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"gmail"`
		Outlook struct {
			Enabled  *bool   `yaml:"enabled"`
			TenantID *string `yaml:"tenant_id"`
		} `yaml:"outlook"`
		Messages struct {
			Enabled       *bool   `yaml:"enabled"`
			Mode          *string `yaml:"mode"`
			DBPath        *string `yaml:"db_path"`
			IncludeGroups *bool   `yaml:"include_groups"`
			MinResponse   *string `yaml:"min_response"`
			MaxResponse   *string `yaml:"max_response"`
		} `yaml:"messages"`
	} `yaml:"sources"`
	ArtifactMaxAge *string `yaml:"artifact_max_age"`
}

// ApplyFile overlays the YAML file at path onto c. A setting in the file
// applies only when its environment variable is unset, so the environment
// always wins.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setStr(&c.ReportEmail, f.ReportEmail, "REPORT_EMAIL")
	setInt(&c.AnalysisDays, f.AnalysisDays, "ANALYSIS_DAYS")
	setStr(&c.DeliveryMethod, f.DeliveryMethod, "DELIVERY_METHOD")
	setBool(&c.GmailEnabled, f.Sources.Gmail.Enabled, "GMAIL_ENABLED")
	setBool(&c.OutlookEnabled, f.Sources.Outlook.Enabled, "OUTLOOK_ENABLED")
	setStr(&c.OutlookTenantID, f.Sources.Outlook.TenantID, "OUTLOOK_TENANT_ID")
	setBool(&c.MessagesEnabled, f.Sources.Messages.Enabled, "MESSAGES_ENABLED")
	setStr(&c.MessagesMode, f.Sources.Messages.Mode, "MESSAGES_MODE")
	setBool(&c.MessagesIncludeGroups, f.Sources.Messages.IncludeGroups, "MESSAGES_INCLUDE_GROUPS")
	if f.Sources.Messages.DBPath != nil && !envSet("MESSAGES_DB_PATH") {
		c.MessagesDBPath = ExpandHome(*f.Sources.Messages.DBPath)
	}

	durations := []struct {
		dst *time.Duration
		v   *string
		env string
	}{
		{&c.MessagesMinResponse, f.Sources.Messages.MinResponse, "MESSAGES_MIN_RESPONSE"},
		{&c.MessagesMaxResponse, f.Sources.Messages.MaxResponse, "MESSAGES_MAX_RESPONSE"},
		{&c.ArtifactMaxAge, f.ArtifactMaxAge, "ARTIFACT_MAX_AGE"},
	}
	for _, d := range durations {
		if d.v == nil || envSet(d.env) {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, d.env, err)
		}
		*d.dst = parsed
	}
	return nil
}

func envSet(key string) bool {
	return os.Getenv(key) != ""
}

func setStr(dst *string, v *string, env string) {
	if v != nil && !envSet(env) {
		*dst = *v
	}
}

func setInt(dst *int, v *int, env string) {
	if v != nil && !envSet(env) {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool, env string) {
	if v != nil && !envSet(env) {
		*dst = *v
	}
}
