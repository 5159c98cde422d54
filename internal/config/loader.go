package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"liquidreader/pkg/types"
)

// Load reads and parses the configuration file.
// It also supports environment variable overrides with LR_ prefix.
func Load(configPath string) (*types.Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid and fills in defaults.
func Validate(cfg *types.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.PublicBaseURL == "" {
		cfg.Server.PublicBaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	if cfg.Storage.Adapter != "local" && cfg.Storage.Adapter != "s3" {
		return fmt.Errorf("invalid storage adapter: %s (must be 'local' or 's3')", cfg.Storage.Adapter)
	}
	if cfg.Storage.Adapter == "local" {
		if cfg.Storage.Local.BasePath == "" {
			return fmt.Errorf("local storage base_path is required")
		}
		if !filepath.IsAbs(cfg.Storage.Local.BasePath) {
			return fmt.Errorf("local storage base_path must be absolute: %s", cfg.Storage.Local.BasePath)
		}
	}
	if cfg.Storage.Adapter == "s3" {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("s3 region is required")
		}
	}

	switch cfg.Repository.Backend {
	case "":
		cfg.Repository.Backend = "storage"
	case "storage":
	case "sqlite":
		if cfg.Repository.Sqlite.Path == "" {
			return fmt.Errorf("sqlite repository path is required")
		}
	default:
		return fmt.Errorf("invalid repository backend: %s (must be 'storage' or 'sqlite')", cfg.Repository.Backend)
	}

	if cfg.Reader.SessionIdleTimeout < 0 {
		return fmt.Errorf("invalid session idle timeout: %d", cfg.Reader.SessionIdleTimeout)
	}
	if cfg.Reader.PersistTimeout <= 0 {
		cfg.Reader.PersistTimeout = 5
	}

	switch cfg.Gateway.Mode {
	case "":
		cfg.Gateway.Mode = "local"
	case "local":
	case "remote":
		if cfg.Gateway.BaseURL == "" {
			return fmt.Errorf("remote gateway base_url is required")
		}
	default:
		return fmt.Errorf("invalid gateway mode: %s (must be 'local' or 'remote')", cfg.Gateway.Mode)
	}

	switch cfg.Logging.Level {
	case "":
		cfg.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
// Environment variables are prefixed with LR_ (LiquidReader).
func applyEnvOverrides(cfg *types.Config) {
	if val := os.Getenv("LR_SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("LR_SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &cfg.Server.Port)
	}
	if val := os.Getenv("LR_SERVER_PUBLIC_BASE_URL"); val != "" {
		cfg.Server.PublicBaseURL = val
	}

	if val := os.Getenv("LR_STORAGE_ADAPTER"); val != "" {
		cfg.Storage.Adapter = val
	}
	if val := os.Getenv("LR_STORAGE_LOCAL_BASE_PATH"); val != "" {
		cfg.Storage.Local.BasePath = val
	}
	if val := os.Getenv("LR_STORAGE_S3_BUCKET"); val != "" {
		cfg.Storage.S3.Bucket = val
	}
	if val := os.Getenv("LR_STORAGE_S3_REGION"); val != "" {
		cfg.Storage.S3.Region = val
	}
	if val := os.Getenv("LR_STORAGE_S3_ENDPOINT"); val != "" {
		cfg.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("LR_STORAGE_S3_ACCESS_KEY_ID"); val != "" {
		cfg.Storage.S3.AccessKeyID = val
	}
	if val := os.Getenv("LR_STORAGE_S3_SECRET_ACCESS_KEY"); val != "" {
		cfg.Storage.S3.SecretAccessKey = val
	}

	if val := os.Getenv("LR_REPOSITORY_BACKEND"); val != "" {
		cfg.Repository.Backend = val
	}
	if val := os.Getenv("LR_REPOSITORY_SQLITE_PATH"); val != "" {
		cfg.Repository.Sqlite.Path = val
	}

	if val := os.Getenv("LR_GATEWAY_MODE"); val != "" {
		cfg.Gateway.Mode = val
	}
	if val := os.Getenv("LR_GATEWAY_BASE_URL"); val != "" {
		cfg.Gateway.BaseURL = val
	}
	if val := os.Getenv("LR_GATEWAY_TOKEN"); val != "" {
		cfg.Gateway.Token = val
	}

	if val := os.Getenv("LR_AUTH_TOKEN"); val != "" {
		cfg.Auth.Token = val
	}

	if val := os.Getenv("LR_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// GetDefault returns a default configuration
func GetDefault() *types.Config {
	return &types.Config{
		Server: types.ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15,
			WriteTimeout: 15,
		},
		Storage: types.StorageConfig{
			Adapter: "local",
			Local: types.LocalStorageOpts{
				BasePath: "/var/lib/liquidreader/storage",
			},
		},
		Repository: types.RepositoryConfig{
			Backend: "storage",
		},
		Reader: types.ReaderConfig{
			SessionIdleTimeout: 1800,
			PersistTimeout:     5,
		},
		Gateway: types.GatewayConfig{
			Mode: "local",
		},
		Logging: types.LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
