package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Twitch  TwitchConfig  `yaml:"twitch"`
	Kick    KickConfig    `yaml:"kick"`
	YouTube YouTubeConfig `yaml:"youtube"`
	History HistoryConfig `yaml:"history"`
	Viewers ViewersConfig `yaml:"viewers"`
	S3      S3Config      `yaml:"s3"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ServerConfig holds the viewer-facing HTTP server configuration
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// TwitchConfig holds Twitch-specific configuration
type TwitchConfig struct {
	Channel string `yaml:"channel"`
}

// KickConfig holds Kick-specific configuration
type KickConfig struct {
	Channel    string `yaml:"channel"`
	ChatroomID int    `yaml:"chatroom_id"` // optional; 0 means resolve via API
}

// YouTubeConfig holds YouTube-specific configuration. An empty video ID
// disables the YouTube connector.
type YouTubeConfig struct {
	VideoID string `yaml:"video_id"`
}

// HistoryConfig holds the chat history log configuration
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// ViewersConfig holds the viewer-count poller configuration
type ViewersConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// S3Config holds S3 archive configuration
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	RoleARN         string `yaml:"role_arn"`          // IAM role ARN to assume
	AccessKeyID     string `yaml:"access_key_id"`     // static credentials
	SecretAccessKey string `yaml:"secret_access_key"` // static credentials
}

// ArchiveConfig holds end-of-run archive configuration
type ArchiveConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Read YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Apply environment variable overrides
	if videoID := os.Getenv("YOUTUBE_VIDEO_ID"); videoID != "" {
		cfg.YouTube.VideoID = videoID
	}
	if roleARN := os.Getenv("AWS_ROLE_ARN"); roleARN != "" {
		cfg.S3.RoleARN = roleARN
	}
	if keyID := os.Getenv("S3_ACCESS_KEY_ID"); keyID != "" {
		cfg.S3.AccessKeyID = keyID
	}
	if secretKey := os.Getenv("S3_SECRET_ACCESS_KEY"); secretKey != "" {
		cfg.S3.SecretAccessKey = secretKey
	}

	// Set defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "localhost:8080"
	}
	if cfg.Server.StaticDir == "" {
		cfg.Server.StaticDir = "."
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "messages.jsonl"
	}
	if cfg.Viewers.IntervalSeconds == 0 {
		cfg.Viewers.IntervalSeconds = 60
	}
	if cfg.Archive.MaxRetries == 0 {
		cfg.Archive.MaxRetries = 3
	}

	// Validate required fields
	if cfg.Twitch.Channel == "" {
		return nil, fmt.Errorf("twitch.channel is required")
	}
	if cfg.Kick.Channel == "" {
		return nil, fmt.Errorf("kick.channel is required")
	}
	// The archive is optional; when a bucket is set it needs a region and
	// some way to authenticate.
	if cfg.S3.Bucket != "" {
		if cfg.S3.Region == "" {
			return nil, fmt.Errorf("s3.region is required when s3.bucket is set")
		}
		if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey == "" {
			return nil, fmt.Errorf("s3.secret_access_key is required when using access_key_id")
		}
	}

	return &cfg, nil
}
