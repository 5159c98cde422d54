package types

// Config represents the overall application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Repository RepositoryConfig `yaml:"repository" json:"repository"`
	Reader     ReaderConfig     `yaml:"reader" json:"reader"`
	Gateway    GatewayConfig    `yaml:"gateway" json:"gateway"`
	Auth       AuthConfig       `yaml:"auth" json:"auth"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"read_timeout" json:"read_timeout"`   // seconds
	WriteTimeout int    `yaml:"write_timeout" json:"write_timeout"` // seconds

	// PublicBaseURL is the externally visible origin used to build file
	// URLs handed to clients (fixed-layout viewer URL, download links).
	PublicBaseURL string `yaml:"public_base_url" json:"public_base_url"`
}

// StorageConfig defines storage adapter settings
type StorageConfig struct {
	Adapter string           `yaml:"adapter" json:"adapter"` // "local" or "s3"
	Local   LocalStorageOpts `yaml:"local" json:"local"`
	S3      S3StorageOpts    `yaml:"s3" json:"s3"`
}

// LocalStorageOpts configures the local filesystem adapter
type LocalStorageOpts struct {
	BasePath string `yaml:"base_path" json:"base_path"`
}

// S3StorageOpts configures the S3-compatible adapter
type S3StorageOpts struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" json:"region"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl"`
}

// RepositoryConfig selects the book metadata backend
type RepositoryConfig struct {
	Backend string `yaml:"backend" json:"backend"` // "storage" or "sqlite"
	Sqlite  struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"sqlite" json:"sqlite"`
}

// ReaderConfig holds reading-session settings
type ReaderConfig struct {
	// SessionIdleTimeout is how long an untouched session survives before
	// the manager reaps it, in seconds. Zero disables reaping.
	SessionIdleTimeout int `yaml:"session_idle_timeout" json:"session_idle_timeout"`

	// PersistTimeout bounds a single fire-and-forget progress save, seconds.
	PersistTimeout int `yaml:"persist_timeout" json:"persist_timeout"`
}

// GatewayConfig selects where reading progress is persisted: the book
// repository of this process, or a remote backend reached over HTTP.
type GatewayConfig struct {
	Mode string `yaml:"mode" json:"mode"` // "local" or "remote"

	// BaseURL is the remote backend origin. Required in remote mode.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Token is the bearer credential presented to the remote backend.
	Token string `yaml:"token" json:"token"`
}

// AuthConfig holds the static API bearer token. Empty disables auth.
type AuthConfig struct {
	Token string `yaml:"token" json:"token"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" json:"format"` // "console" or "json"
}
