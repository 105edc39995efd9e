package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// defaultSocketPath is the Socket.IO mount point on the server.
	defaultSocketPath = "/ws/socket.io"
)

type Config struct {
	// ServerURL is the base URL of the bookcross REST API.
	ServerURL string
	// SocketURL is the origin of the realtime channel. A relative value
	// ("/ws") resolves against ServerURL, mirroring how browser clients
	// resolve against the document origin.
	SocketURL string
	// SocketPath is the Socket.IO handshake path on the socket origin.
	SocketPath string

	// BookcrossHome is the directory where local state is stored.
	BookcrossHome string
	// CredentialsFile is the path to the persisted session credentials.
	CredentialsFile string

	// Debug enables verbose logging.
	Debug bool
	// LogLevel is the raw log level string (trace|debug|info|warn|error).
	LogLevel string
}

// Load loads configuration from environment and defaults
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	bookcrossHome := os.Getenv("BOOKCROSS_HOME_DIR")
	if bookcrossHome == "" {
		bookcrossHome = filepath.Join(homeDir, ".bookcross")
	}

	// Ensure bookcross home exists
	if err := os.MkdirAll(bookcrossHome, 0700); err != nil {
		return nil, fmt.Errorf("failed to create bookcross home: %w", err)
	}

	serverURL := os.Getenv("BOOKCROSS_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8000"
	}
	serverURL = strings.TrimRight(serverURL, "/")

	socketURL := os.Getenv("BOOKCROSS_SOCKET_URL")
	socketPath := os.Getenv("BOOKCROSS_SOCKET_PATH")

	// A relative socket URL means "same origin as the API" with the value as
	// a path prefix, matching the web client's resolution rules.
	if socketURL == "" {
		socketURL = serverURL
		if socketPath == "" {
			socketPath = defaultSocketPath
		}
	} else if strings.HasPrefix(socketURL, "/") {
		prefix := strings.TrimRight(socketURL, "/")
		socketURL = serverURL
		if socketPath == "" {
			socketPath = prefix + "/socket.io"
		}
	} else {
		socketURL = strings.TrimRight(socketURL, "/")
		if socketPath == "" {
			socketPath = defaultSocketPath
		}
	}

	debug := os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1" ||
		os.Getenv("BOOKCROSS_DEBUG") == "true" || os.Getenv("BOOKCROSS_DEBUG") == "1"

	logLevel := os.Getenv("BOOKCROSS_LOG_LEVEL")
	if logLevel == "" && debug {
		logLevel = "debug"
	}

	return &Config{
		ServerURL:       serverURL,
		SocketURL:       socketURL,
		SocketPath:      socketPath,
		BookcrossHome:   bookcrossHome,
		CredentialsFile: filepath.Join(bookcrossHome, "credentials.json"),
		Debug:           debug,
		LogLevel:        logLevel,
	}, nil
}

// Save saves configuration to disk (currently just creates directories)
func (c *Config) Save() error {
	return os.MkdirAll(c.BookcrossHome, 0700)
}
