// Package config loads the JSON configuration document discovered next to
// the executable.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the startup configuration. It is read once and treated as
// read-only by the engine.
type Config struct {
	ICloudCalDavURL string `mapstructure:"ICloudCalDavUrl"`
	ICloudUser      string `mapstructure:"ICloudUser"`
	ICloudPassword  string `mapstructure:"ICloudPassword"`
	PrincipalID     string `mapstructure:"PrincipalId"`
	WorkCalendarID  string `mapstructure:"WorkCalendarId"`

	InitialWaitSeconds  int `mapstructure:"InitialWaitSeconds"`
	SyncIntervalMinutes int `mapstructure:"SyncIntervalMinutes"`

	SyncDaysIntoFuture            int `mapstructure:"SyncDaysIntoFuture"`
	SyncDaysIntoPast              int `mapstructure:"SyncDaysIntoPast"`
	RecurrenceExpansionDaysPast   int `mapstructure:"RecurrenceExpansionDaysPast"`
	RecurrenceExpansionDaysFuture int `mapstructure:"RecurrenceExpansionDaysFuture"`

	SourceID string `mapstructure:"SourceId"`
	EventTag string `mapstructure:"EventTag"`

	SourceTimeZoneID string `mapstructure:"SourceTimeZoneId"`
	TargetTimeZoneID string `mapstructure:"TargetTimeZoneId"`

	IncludeSecondReminder bool   `mapstructure:"IncludeSecondReminder"`
	LogLevel              string `mapstructure:"LogLevel"`

	LogFile       string `mapstructure:"LogFile"`
	LogMaxSizeMB  int    `mapstructure:"LogMaxSizeMB"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogMaxAgeDays int    `mapstructure:"LogMaxAgeDays"`
}

const fileName = "config.json"

// DefaultPath locates the configuration document next to the executable.
func DefaultPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("config: cannot locate executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), fileName), nil
}

// Load reads the configuration from path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("InitialWaitSeconds", 60)
	v.SetDefault("SyncIntervalMinutes", 3)
	v.SetDefault("SyncDaysIntoFuture", 30)
	v.SetDefault("SyncDaysIntoPast", 30)
	v.SetDefault("RecurrenceExpansionDaysPast", 30)
	v.SetDefault("RecurrenceExpansionDaysFuture", 30)
	v.SetDefault("IncludeSecondReminder", true)
	v.SetDefault("LogLevel", "Info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.ICloudCalDavURL == "":
		return fmt.Errorf("config: ICloudCalDavUrl is required")
	case c.ICloudUser == "":
		return fmt.Errorf("config: ICloudUser is required")
	case c.ICloudPassword == "":
		return fmt.Errorf("config: ICloudPassword is required")
	case c.PrincipalID == "":
		return fmt.Errorf("config: PrincipalId is required")
	case c.WorkCalendarID == "":
		return fmt.Errorf("config: WorkCalendarId is required")
	}
	return nil
}
