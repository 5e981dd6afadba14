/*
Package config loads runtime configuration through viper.

Settings come from flags, environment variables with the WORKTRACKER
prefix (dots become underscores, e.g. WORKTRACKER_HTTP_ADDRESS), or an
optional config file, in the usual viper precedence order.

The database backend is selected by the database.url scheme: postgres://
connects through the PostgreSQL adapter, anything else is treated as a
SQLite file path.
*/
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "WORKTRACKER"
	defaultHTTPAddress = "0.0.0.0:8080"
	defaultDatabaseURL = "worktracker.db"
	defaultLogLevel    = "info"
	defaultSMTPPort    = 587
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseURL    string
	LogLevel       string
	AllowedOrigins []string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	ReportRecipients []string
	SchedulerEnabled bool
}

// UsePostgres reports whether the database URL selects the PostgreSQL
// backend.
func (c AppConfig) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") ||
		strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.url", defaultDatabaseURL)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("http.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	configViper.SetDefault("smtp.port", defaultSMTPPort)
	configViper.SetDefault("report.scheduler_enabled", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabaseURL:      configViper.GetString("database.url"),
		LogLevel:         configViper.GetString("log.level"),
		AllowedOrigins:   splitCommaList(configViper.GetStringSlice("http.allowed_origins")),
		SMTPHost:         configViper.GetString("smtp.host"),
		SMTPPort:         configViper.GetInt("smtp.port"),
		SMTPUsername:     configViper.GetString("smtp.username"),
		SMTPPassword:     configViper.GetString("smtp.password"),
		SMTPFrom:         configViper.GetString("smtp.from"),
		ReportRecipients: splitCommaList(configViper.GetStringSlice("report.recipients")),
		SchedulerEnabled: configViper.GetBool("report.scheduler_enabled"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitCommaList re-splits slice values on commas. Environment variables
// arrive as one string and viper only splits on whitespace, so
// WORKTRACKER_REPORT_RECIPIENTS=a@x.com,b@y.com would otherwise stay a
// single element.
func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database.url is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	return nil
}
