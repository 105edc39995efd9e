package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadForTest(t *testing.T, env map[string]string) *Config {
	t.Helper()
	t.Setenv("BOOKCROSS_HOME_DIR", t.TempDir())
	for _, key := range []string{
		"BOOKCROSS_SERVER_URL", "BOOKCROSS_SOCKET_URL", "BOOKCROSS_SOCKET_PATH",
		"BOOKCROSS_LOG_LEVEL", "BOOKCROSS_DEBUG", "DEBUG",
	} {
		t.Setenv(key, env[key])
	}
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadForTest(t, nil)

	require.Equal(t, "http://localhost:8000", cfg.ServerURL)
	require.Equal(t, cfg.ServerURL, cfg.SocketURL, "socket defaults to the API origin")
	require.Equal(t, "/ws/socket.io", cfg.SocketPath)
	require.Equal(t, filepath.Join(cfg.BookcrossHome, "credentials.json"), cfg.CredentialsFile)
	require.False(t, cfg.Debug)
}

func TestLoad_RelativeSocketURLResolvesAgainstServer(t *testing.T) {
	cfg := loadForTest(t, map[string]string{
		"BOOKCROSS_SERVER_URL": "https://books.example.com/",
		"BOOKCROSS_SOCKET_URL": "/realtime",
	})

	require.Equal(t, "https://books.example.com", cfg.ServerURL, "trailing slash is stripped")
	require.Equal(t, "https://books.example.com", cfg.SocketURL)
	require.Equal(t, "/realtime/socket.io", cfg.SocketPath)
}

func TestLoad_AbsoluteSocketURL(t *testing.T) {
	cfg := loadForTest(t, map[string]string{
		"BOOKCROSS_SERVER_URL": "https://books.example.com",
		"BOOKCROSS_SOCKET_URL": "wss://push.example.com/",
	})

	require.Equal(t, "wss://push.example.com", cfg.SocketURL)
	require.Equal(t, "/ws/socket.io", cfg.SocketPath)
}

func TestLoad_ExplicitSocketPathWins(t *testing.T) {
	cfg := loadForTest(t, map[string]string{
		"BOOKCROSS_SOCKET_URL":  "/realtime",
		"BOOKCROSS_SOCKET_PATH": "/custom/socket.io",
	})

	require.Equal(t, "/custom/socket.io", cfg.SocketPath)
}

func TestLoad_DebugImpliesDebugLogLevel(t *testing.T) {
	cfg := loadForTest(t, map[string]string{"BOOKCROSS_DEBUG": "1"})
	require.True(t, cfg.Debug)
	require.Equal(t, "debug", cfg.LogLevel)

	cfg = loadForTest(t, map[string]string{"BOOKCROSS_DEBUG": "1", "BOOKCROSS_LOG_LEVEL": "trace"})
	require.Equal(t, "trace", cfg.LogLevel, "explicit level is not overridden")
}
