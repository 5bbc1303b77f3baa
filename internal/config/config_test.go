package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimal = `{
  "ICloudCalDavUrl": "https://caldav.icloud.com",
  "ICloudUser": "user@example.com",
  "ICloudPassword": "app-specific",
  "PrincipalId": "12345",
  "WorkCalendarId": "work"
}`

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	require.Equal(t, 60, cfg.InitialWaitSeconds)
	require.Equal(t, 3, cfg.SyncIntervalMinutes)
	require.Equal(t, 30, cfg.SyncDaysIntoFuture)
	require.Equal(t, 30, cfg.SyncDaysIntoPast)
	require.True(t, cfg.IncludeSecondReminder)
	require.Equal(t, "Info", cfg.LogLevel)
	require.Empty(t, cfg.SourceID)
}

func TestLoad_overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
  "ICloudCalDavUrl": "https://caldav.icloud.com",
  "ICloudUser": "user@example.com",
  "ICloudPassword": "app-specific",
  "PrincipalId": "12345",
  "WorkCalendarId": "work",
  "SyncIntervalMinutes": 10,
  "SourceId": "ACME",
  "EventTag": "work",
  "IncludeSecondReminder": false,
  "SourceTimeZoneId": "Europe/Berlin"
}`))
	require.NoError(t, err)

	require.Equal(t, 10, cfg.SyncIntervalMinutes)
	require.Equal(t, "ACME", cfg.SourceID)
	require.Equal(t, "work", cfg.EventTag)
	require.False(t, cfg.IncludeSecondReminder)
	require.Equal(t, "Europe/Berlin", cfg.SourceTimeZoneID)
}

func TestLoad_missingRequired(t *testing.T) {
	_, err := Load(writeConfig(t, `{"ICloudCalDavUrl": "https://caldav.icloud.com"}`))
	require.Error(t, err)
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoad_badJSON(t *testing.T) {
	_, err := Load(writeConfig(t, `{not json`))
	require.Error(t, err)
}
