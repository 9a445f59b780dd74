package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	TelegramToken string
	DatabasePath  string
	Timezone      *time.Location
	WebhookURL    string
	ServerPort    string

	APIUsername string
	APIPassword string

	LogLevel  string
	LogFormat string

	CalDAVURL      string
	CalDAVUsername string
	CalDAVPassword string
	CalDAVCalendar string
	// CalDAVSyncSpec is a cron spec for the full CalDAV resync.
	CalDAVSyncSpec string

	DialogTTL       time.Duration
	SendRate        float64
	DeliveryWorkers int
}

var defaults = map[string]any{
	"database_path":    "./data/remindbot.db",
	"timezone":         "Europe/Moscow",
	"server_port":      "8080",
	"log_level":        "info",
	"log_format":       "console",
	"caldav_calendar":  "reminders",
	"caldav_sync_spec": "@every 6h",
	"dialog_ttl":       "1000s",
	"send_rate":        25.0,
	"delivery_workers": 4,
}

// Load reads configuration from the environment and, when path is not
// empty, from a YAML file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// env names are the upper-cased keys, e.g. TELEGRAM_BOT_TOKEN
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range []string{
		"telegram_bot_token", "webhook_url", "api_username", "api_password",
		"caldav_url", "caldav_username", "caldav_password",
	} {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	token := v.GetString("telegram_bot_token")
	if token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	tz, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	ttl := v.GetDuration("dialog_ttl")
	if ttl <= 0 {
		return nil, fmt.Errorf("invalid DIALOG_TTL %q", v.GetString("dialog_ttl"))
	}

	workers := v.GetInt("delivery_workers")
	if workers < 1 {
		workers = 1
	}

	return &Config{
		TelegramToken:   token,
		DatabasePath:    v.GetString("database_path"),
		Timezone:        tz,
		WebhookURL:      v.GetString("webhook_url"),
		ServerPort:      v.GetString("server_port"),
		APIUsername:     v.GetString("api_username"),
		APIPassword:     v.GetString("api_password"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		CalDAVURL:       v.GetString("caldav_url"),
		CalDAVUsername:  v.GetString("caldav_username"),
		CalDAVPassword:  v.GetString("caldav_password"),
		CalDAVCalendar:  v.GetString("caldav_calendar"),
		CalDAVSyncSpec:  v.GetString("caldav_sync_spec"),
		DialogTTL:       ttl,
		SendRate:        v.GetFloat64("send_rate"),
		DeliveryWorkers: workers,
	}, nil
}

// APIEnabled reports whether the REST API has credentials to guard it.
func (c *Config) APIEnabled() bool {
	return c.APIUsername != "" && c.APIPassword != ""
}

func (c *Config) CalDAVEnabled() bool {
	return c.CalDAVURL != ""
}
