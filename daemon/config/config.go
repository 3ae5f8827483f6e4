package config

import (
	"os"
	"path/filepath"
)

// Config holds daemon configuration
type Config struct {
	DatabasePath    string
	ManifestDir     string
	KeysDirectory   string
	ChunkSize       int64
	EventBufferSize int
	WorkerCount     int
	QueueDepth      int
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	keysDir := filepath.Join(homeDir, ".local", "share", "archivestream", "keys")

	return &Config{
		DatabasePath:    "cas.db",
		ManifestDir:     "manifests",
		KeysDirectory:   keysDir,
		ChunkSize:       1048576, // 1 MiB
		EventBufferSize: 100,
		WorkerCount:     8,
		QueueDepth:      32,
	}
}

// LoadConfig loads configuration from file (simplified - just returns default)
func LoadConfig(configPath string) (*Config, error) {
	// For simplicity, return default config
	// In production, this would parse YAML file
	return DefaultConfig(), nil
}
