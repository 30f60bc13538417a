package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		original, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, original)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, "HOST", "PORT", "DATA_DIR", "HOST_DATA_DIR", "IMPORT_DIR", "HOST_IMPORT_DIR",
		"MAX_BACKUPS_PER_TYPE", "AUTO_BACKUP_ON_STOP", "LOG_LEVEL", "LOG_PRETTY")

	tmp := t.TempDir()
	os.Setenv("DATA_DIR", tmp)

	cfg, err := Load()
	require.NoError(t, err)

	absTmp, err := filepath.Abs(tmp)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, absTmp, cfg.DataDir)
	assert.Equal(t, absTmp, cfg.HostDataDir)
	assert.Equal(t, 5, cfg.MaxBackupsPerType)
	assert.True(t, cfg.AutoBackupOnStop)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
}

func TestLoad_CreatesDataDir(t *testing.T) {
	clearEnv(t, "DATA_DIR")
	tmp := filepath.Join(t.TempDir(), "nested", "data")
	os.Setenv("DATA_DIR", tmp)

	cfg, err := Load()
	require.NoError(t, err)

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoad_HostDataDirOverride(t *testing.T) {
	clearEnv(t, "DATA_DIR", "HOST_DATA_DIR")
	os.Setenv("DATA_DIR", t.TempDir())
	os.Setenv("HOST_DATA_DIR", "/mnt/containerhost/data")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/containerhost/data", cfg.HostDataDir)
}

func TestLoad_DerivedPaths(t *testing.T) {
	clearEnv(t, "DATA_DIR")
	tmp := t.TempDir()
	os.Setenv("DATA_DIR", tmp)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfg.DataDir, "servers"), cfg.ServersDir())
	assert.Equal(t, filepath.Join(cfg.DataDir, "templates"), cfg.TemplatesDir())
	assert.Equal(t, filepath.Join(cfg.DataDir, "backups"), cfg.BackupsDir())
	assert.Equal(t, filepath.Join(cfg.DataDir, "logs"), cfg.LogsDir())
	assert.Equal(t, filepath.Join(cfg.DataDir, "native-processes.json"), cfg.NativeStateFile())
}

func TestLoad_BoolParsing(t *testing.T) {
	clearEnv(t, "DATA_DIR", "AUTO_BACKUP_ON_STOP", "LOG_PRETTY")
	os.Setenv("DATA_DIR", t.TempDir())
	os.Setenv("AUTO_BACKUP_ON_STOP", "false")
	os.Setenv("LOG_PRETTY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.AutoBackupOnStop)
	assert.True(t, cfg.LogPretty)
}
