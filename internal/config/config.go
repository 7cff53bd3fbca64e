package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // slim containers ship without a zoneinfo database

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/andressade/MFFR-Profit-Tracker/internal/calculator"
)

// Config holds all application configuration.
type Config struct {
	HomeAssistant struct {
		URL            string `yaml:"url"`
		Token          string `yaml:"token"`
		ModeEntity     string `yaml:"mode_entity"`
		PowerEntity    string `yaml:"power_entity"`
		NordpoolEntity string `yaml:"nordpool_entity"`
		VerifySSL      bool   `yaml:"verify_ssl"`
	} `yaml:"home_assistant"`
	Prices struct {
		URL              string `yaml:"url"`
		SourceMode       string `yaml:"price_source_mode"`
		RefreshIntervalS int    `yaml:"refresh_interval_s"`
		RefreshCron      string `yaml:"refresh_cron"`
		TimeoutS         int    `yaml:"timeout_s"`
		VerifySSL        bool   `yaml:"verify_ssl"`
	} `yaml:"prices"`
	Tracker struct {
		ScanIntervalS   int     `yaml:"scan_interval_s"`
		FeeFraction     float64 `yaml:"fee_fraction"`
		BaselineEnabled bool    `yaml:"baseline_enabled"`
		Timezone        string  `yaml:"timezone"`
		StateFile       string  `yaml:"state_file"`
		PendingCapacity int     `yaml:"pending_capacity"`
		PendingMaxAgeH  int     `yaml:"pending_max_age_h"`
		RecentLimit     int     `yaml:"recent_limit"`
		MaxSampleGapS   int     `yaml:"max_sample_gap_s"`
		BoundaryGraceS  int     `yaml:"boundary_grace_s"`
		LowPowerW       float64 `yaml:"low_power_w"`
		LowPowerGraceS  int     `yaml:"low_power_grace_s"`
	} `yaml:"tracker"`
	Telegram struct {
		BotToken    string `yaml:"bot_token"`
		ChatID      string `yaml:"chat_id"`
		SummaryCron string `yaml:"summary_cron"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	HTTP struct {
		Listen      string   `yaml:"listen"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"http"`
	Proxy string `yaml:"proxy"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	cfg := &Config{}
	cfg.HomeAssistant.VerifySSL = true
	cfg.Prices.SourceMode = "primary"
	cfg.Prices.RefreshIntervalS = 60
	cfg.Prices.RefreshCron = "*/30 * * * * *"
	cfg.Prices.TimeoutS = 5
	cfg.Prices.VerifySSL = true
	cfg.Tracker.ScanIntervalS = 10
	cfg.Tracker.FeeFraction = calculator.DefaultFeeFraction
	cfg.Tracker.BaselineEnabled = true
	cfg.Tracker.Timezone = "Europe/Tallinn"
	cfg.Tracker.StateFile = "data/state.json"
	cfg.Tracker.PendingCapacity = 192
	cfg.Tracker.PendingMaxAgeH = 48
	cfg.Tracker.RecentLimit = 48
	cfg.Tracker.MaxSampleGapS = 120
	cfg.Tracker.BoundaryGraceS = 10
	cfg.Tracker.LowPowerW = 100
	cfg.Tracker.LowPowerGraceS = 60
	cfg.Telegram.SummaryCron = "0 59 23 * * *"
	return cfg
}

// LoadDotEnv loads KEY=value files into the environment. Missing files are
// skipped; variables already set win.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads config from a YAML file on top of the defaults, then applies
// environment variable overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"HA_URL":             &c.HomeAssistant.URL,
		"HA_TOKEN":           &c.HomeAssistant.Token,
		"HA_MODE_ENTITY":     &c.HomeAssistant.ModeEntity,
		"HA_POWER_ENTITY":    &c.HomeAssistant.PowerEntity,
		"HA_NORDPOOL_ENTITY": &c.HomeAssistant.NordpoolEntity,
		"FRR_URL":            &c.Prices.URL,
		"PRICE_SOURCE_MODE":  &c.Prices.SourceMode,
		"TRACKER_TIMEZONE":   &c.Tracker.Timezone,
		"STATE_FILE":         &c.Tracker.StateFile,
		"TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":   &c.Telegram.ChatID,
		"SQLITE_PATH":        &c.Database.SQLitePath,
		"HTTP_LISTEN":        &c.HTTP.Listen,
		"HTTPS_PROXY":        &c.Proxy,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("SCAN_INTERVAL_S"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCAN_INTERVAL_S: %w", err)
		}
		c.Tracker.ScanIntervalS = n
	}
	if v := os.Getenv("FEE_FRACTION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FEE_FRACTION: %w", err)
		}
		c.Tracker.FeeFraction = f
	}
	if v := os.Getenv("BASELINE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BASELINE_ENABLED: %w", err)
		}
		c.Tracker.BaselineEnabled = b
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.HTTP.CORSOrigins = strings.Split(v, ",")
	}
	return nil
}

// Validate checks that all required fields are set and values are in range.
func (c *Config) Validate() error {
	if c.HomeAssistant.URL == "" {
		return fmt.Errorf("home_assistant.url is required")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("home_assistant.token is required")
	}
	if c.HomeAssistant.ModeEntity == "" || c.HomeAssistant.PowerEntity == "" {
		return fmt.Errorf("home_assistant.mode_entity and home_assistant.power_entity are required")
	}
	if err := calculator.ValidateFee(c.Tracker.FeeFraction); err != nil {
		return fmt.Errorf("tracker.fee_fraction: %w", err)
	}
	switch strings.ToLower(c.Prices.SourceMode) {
	case "primary", "secondary", "auto", "auto-fallback":
	default:
		return fmt.Errorf("prices.price_source_mode %q must be primary, secondary or auto", c.Prices.SourceMode)
	}
	if c.Tracker.ScanIntervalS <= 0 {
		return fmt.Errorf("tracker.scan_interval_s must be positive")
	}
	if time.Duration(c.Tracker.MaxSampleGapS)*time.Second < c.ScanInterval() {
		return fmt.Errorf("tracker.max_sample_gap_s must not be shorter than scan_interval_s")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when bot_token is set")
	}
	return nil
}

// Location resolves tracker.timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Tracker.Timezone)
	if err != nil {
		return nil, fmt.Errorf("tracker.timezone %q: %w", c.Tracker.Timezone, err)
	}
	return loc, nil
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Tracker.ScanIntervalS) * time.Second
}

func (c *Config) PriceTimeout() time.Duration {
	return time.Duration(c.Prices.TimeoutS) * time.Second
}

func (c *Config) PriceRefreshInterval() time.Duration {
	return time.Duration(c.Prices.RefreshIntervalS) * time.Second
}

func (c *Config) PendingMaxAge() time.Duration {
	return time.Duration(c.Tracker.PendingMaxAgeH) * time.Hour
}

func (c *Config) MaxSampleGap() time.Duration {
	return time.Duration(c.Tracker.MaxSampleGapS) * time.Second
}

func (c *Config) BoundaryGrace() time.Duration {
	return time.Duration(c.Tracker.BoundaryGraceS) * time.Second
}

// LowPowerGrace is negative when early cancellation is disabled.
func (c *Config) LowPowerGrace() time.Duration {
	if c.Tracker.LowPowerGraceS <= 0 {
		return -1
	}
	return time.Duration(c.Tracker.LowPowerGraceS) * time.Second
}
