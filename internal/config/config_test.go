// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "memory", cfg.Archive.Backend)
	assert.Equal(t, 60*time.Second, cfg.Timers.SweepInterval.Std())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reportd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
data_dir: /var/lib/reportd
archive:
  backend: sqlite
  path: /var/lib/reportd/archive.db
timers:
  sweep_interval: 10s
session_defaults:
  duration_seconds: 300
  max_captures: 8
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/reportd", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.Archive.Backend)
	assert.Equal(t, 10*time.Second, cfg.Timers.SweepInterval.Std())
	assert.Equal(t, 300, cfg.SessionDefaults.DurationSeconds)
	// Untouched fields keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Timers.StatusInterval.Std())
	assert.Equal(t, 2.0, cfg.SessionDefaults.CooldownSeconds)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reportd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9090\"\n"), 0o600))

	t.Setenv("REPORTD_LISTEN_ADDR", ":7070")
	t.Setenv("REPORTD_SWEEP_INTERVAL", "45s")
	t.Setenv("REPORTD_SESSION_MAX_CAPTURES", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.Timers.SweepInterval.Std())
	assert.Equal(t, 9, cfg.SessionDefaults.MaxCaptures)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown archive backend", "archive:\n  backend: postgres\n"},
		{"sqlite without path", "archive:\n  backend: sqlite\n"},
		{"zero sweep interval", "timers:\n  sweep_interval: -1s\n"},
		{"bad session defaults", "session_defaults:\n  duration_seconds: 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "reportd.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParseHelpersFallBack(t *testing.T) {
	t.Setenv("REPORTD_TEST_INT", "not-a-number")
	assert.Equal(t, 42, ParseInt("REPORTD_TEST_INT", 42))

	t.Setenv("REPORTD_TEST_BOOL", "yes")
	assert.True(t, ParseBool("REPORTD_TEST_BOOL", false))

	t.Setenv("REPORTD_TEST_DUR", "nonsense")
	assert.Equal(t, time.Minute, ParseDuration("REPORTD_TEST_DUR", time.Minute))

	assert.Equal(t, "fallback", ParseString("REPORTD_TEST_UNSET", "fallback"))
}
