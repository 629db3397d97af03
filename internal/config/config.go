// Package config handles loading and parsing of Sealbox configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for Sealbox.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Uploads UploadsConfig `yaml:"uploads"`
	Blob    BlobConfig    `yaml:"blob"`
	Auth    AuthConfig    `yaml:"auth"`
	Signing SigningConfig `yaml:"signing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: text, json.
	Format string `yaml:"format"`
}

// UploadsConfig holds resumable upload store settings.
type UploadsConfig struct {
	// Enabled controls whether the upload endpoints are served at all.
	// When false every upload route responds 404.
	Enabled bool `yaml:"enabled"`
	// RootDir is the base directory for in-progress upload sessions.
	RootDir string `yaml:"root_dir"`
	// MaxUploadLength is the maximum declared upload size in bytes.
	// Zero means unlimited.
	MaxUploadLength int64 `yaml:"max_upload_length"`
	// TTLSeconds is the age in seconds after which an unfinished session
	// is reaped.
	TTLSeconds int `yaml:"ttl_seconds"`
	// SweepIntervalSeconds is how often the background reaper runs.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// BlobConfig holds permanent blob storage settings.
type BlobConfig struct {
	// Backend is the blob data backend type: "local", "memory", "aws",
	// "gcp", or "azure".
	Backend string `yaml:"backend"`
	// IndexPath is the filesystem path for the SQLite blob index.
	IndexPath string `yaml:"index_path"`
	Local     LocalBlobConfig `yaml:"local"`
	// AWSBucket is the S3 bucket name for the AWS gateway backend.
	AWSBucket string `yaml:"aws_bucket"`
	// AWSRegion is the AWS region for the AWS gateway backend.
	AWSRegion string `yaml:"aws_region"`
	// AWSPrefix is the optional key prefix for all blobs in the upstream
	// AWS bucket.
	AWSPrefix string `yaml:"aws_prefix"`
	// AWSAccessKeyID and AWSSecretAccessKey are optional static credentials
	// for the AWS gateway backend. When empty the default credential chain
	// is used.
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	// GCPBucket is the GCS bucket name for the GCP gateway backend.
	GCPBucket string `yaml:"gcp_bucket"`
	// GCPPrefix is the optional key prefix for all blobs in the upstream
	// GCS bucket.
	GCPPrefix string `yaml:"gcp_prefix"`
	// AzureContainer is the container name for the Azure gateway backend.
	AzureContainer string `yaml:"azure_container"`
	// AzureAccount is the storage account name for the Azure gateway
	// backend. Used to construct the account URL:
	// https://{account}.blob.core.windows.net
	AzureAccount string `yaml:"azure_account"`
	// AzureAccountURL is the full Azure storage account URL. If empty, it
	// is constructed from AzureAccount.
	AzureAccountURL string `yaml:"azure_account_url"`
	// AzurePrefix is the optional key prefix for all blobs in the upstream
	// Azure container.
	AzurePrefix string `yaml:"azure_prefix"`
}

// LocalBlobConfig holds local filesystem blob backend settings.
type LocalBlobConfig struct {
	// RootDir is the base directory for content-addressed blob storage.
	RootDir string `yaml:"root_dir"`
}

// AuthConfig holds authentication settings for the upload endpoints.
type AuthConfig struct {
	// Secret is the HMAC key used to verify bearer tokens. When empty the
	// auth middleware is not installed (development mode).
	Secret string `yaml:"secret"`
}

// SigningConfig holds signed blob handle settings.
type SigningConfig struct {
	// Secret is the HMAC key used to sign blob handles.
	Secret string `yaml:"secret"`
	// TTLSeconds is the validity window of a signed handle. Zero means
	// handles never expire.
	TTLSeconds int `yaml:"ttl_seconds"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config. It applies sensible defaults for unset values. If the
// primary path fails, it falls back to sealbox.example.yaml in the same
// directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// Try fallback paths
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "sealbox.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "sealbox.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8420,
			ShutdownTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Uploads: UploadsConfig{
			Enabled:              true,
			RootDir:              "./data/uploads",
			MaxUploadLength:      5 << 30, // 5 GiB
			TTLSeconds:           86400,
			SweepIntervalSeconds: 3600,
		},
		Blob: BlobConfig{
			Backend:   "local",
			IndexPath: "./data/blobs.db",
			Local: LocalBlobConfig{
				RootDir: "./data/blobs",
			},
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8420
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Uploads.RootDir == "" {
		cfg.Uploads.RootDir = "./data/uploads"
	}
	if cfg.Uploads.TTLSeconds == 0 {
		cfg.Uploads.TTLSeconds = 86400
	}
	if cfg.Uploads.SweepIntervalSeconds == 0 {
		cfg.Uploads.SweepIntervalSeconds = 3600
	}
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "local"
	}
	if cfg.Blob.IndexPath == "" {
		cfg.Blob.IndexPath = "./data/blobs.db"
	}
	if cfg.Blob.Local.RootDir == "" {
		cfg.Blob.Local.RootDir = "./data/blobs"
	}
}
