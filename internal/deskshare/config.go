package deskshare

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"deskshare/pkg/blockstream"
	"deskshare/pkg/viewer"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// DefaultConfigPath is used when no --config flag is given.
var DefaultConfigPath = filepath.Join("configs", "default.yaml")

type Config struct {
	BlockStream BlockStreamConfig `yaml:"blockstream"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`
	Room        RoomConfig        `yaml:"room"`
	Viewer      ViewerConfig      `yaml:"viewer"`
}

type BlockStreamConfig struct {
	Port              int `yaml:"port"`
	ReadBufferSize    int `yaml:"read_buffer_size"`
	MaxFrameSize      int `yaml:"max_frame_size"`
	IdleTimeout       int `yaml:"idle_timeout"` // seconds, 0 disables
	MaxRoomMismatches int `yaml:"max_room_mismatches"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RoomConfig struct {
	MaxBlockDeltas  int  `yaml:"max_block_deltas"`
	EndOnDisconnect bool `yaml:"end_on_disconnect"`
}

type ViewerConfig struct {
	SendQueueSize int `yaml:"send_queue_size"`
}

// DefaultConfig returns the configuration used for missing keys.
func DefaultConfig() *Config {
	return &Config{
		BlockStream: BlockStreamConfig{
			Port:           blockstream.DefaultPort,
			ReadBufferSize: blockstream.DefaultReadBufferSize,
			MaxFrameSize:   16 << 20,
		},
		HTTP:    HTTPConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info"},
		Room:    RoomConfig{MaxBlockDeltas: 32, EndOnDisconnect: true},
		Viewer:  ViewerConfig{SendQueueSize: viewer.DefaultQueueSize},
	}
}

// LoadConfig loads configuration from a yaml file. Keys missing from the
// file keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.BlockStream.Port <= 0 || c.BlockStream.Port > 65535 {
		return fmt.Errorf("invalid blockstream port: %d (must be between 1-65535)", c.BlockStream.Port)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d (must be between 1-65535)", c.HTTP.Port)
	}
	if c.HTTP.Port == c.BlockStream.Port {
		return fmt.Errorf("http port and blockstream port must differ: %d", c.HTTP.Port)
	}

	if _, ok := logLevels[strings.ToLower(c.Logging.Level)]; !ok {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, slices.Sorted(maps.Keys(logLevels)))
	}

	if c.BlockStream.ReadBufferSize <= 0 {
		return fmt.Errorf("invalid read_buffer_size: %d (must be positive)", c.BlockStream.ReadBufferSize)
	}
	if c.BlockStream.MaxFrameSize < 0 {
		return fmt.Errorf("invalid max_frame_size: %d (must be non-negative)", c.BlockStream.MaxFrameSize)
	}
	if c.BlockStream.IdleTimeout < 0 {
		return fmt.Errorf("invalid idle_timeout: %d (must be non-negative)", c.BlockStream.IdleTimeout)
	}
	if c.BlockStream.MaxRoomMismatches < 0 {
		return fmt.Errorf("invalid max_room_mismatches: %d (must be non-negative)", c.BlockStream.MaxRoomMismatches)
	}
	if c.Room.MaxBlockDeltas < 0 {
		return fmt.Errorf("invalid max_block_deltas: %d (must be non-negative)", c.Room.MaxBlockDeltas)
	}
	if c.Viewer.SendQueueSize <= 0 {
		return fmt.Errorf("invalid send_queue_size: %d (must be positive)", c.Viewer.SendQueueSize)
	}

	return nil
}

// ServerConfig maps the blockstream section onto the transport config.
func (c *Config) ServerConfig() blockstream.ServerConfig {
	return blockstream.ServerConfig{
		Port:              c.BlockStream.Port,
		ReadBufferSize:    c.BlockStream.ReadBufferSize,
		MaxFrameSize:      c.BlockStream.MaxFrameSize,
		IdleTimeout:       time.Duration(c.BlockStream.IdleTimeout) * time.Second,
		MaxRoomMismatches: c.BlockStream.MaxRoomMismatches,
	}
}

// GetSlogLevel returns the configured level, info when unset or unknown.
func (c *Config) GetSlogLevel() slog.Level {
	if level, ok := logLevels[strings.ToLower(c.Logging.Level)]; ok {
		return level
	}
	return slog.LevelInfo
}
