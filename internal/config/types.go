// Package config loads LeapChat configuration from file, environment and
// CLI flags.
package config

// Defaults applied before any other configuration source.
const (
	DefaultStorePath  = "leapchat.db"
	DefaultOutput     = "table"
	DefaultBackendURL = "http://localhost:8000"
	DefaultTimeout    = 30
	DefaultPort       = 8080
	DefaultExecMode   = "remote"
)

// Config is the resolved application configuration.
type Config struct {
	StorePath     string `koanf:"store_path"`
	Verbose       bool   `koanf:"verbose"`
	Output        string `koanf:"output"`
	DefaultSource string `koanf:"default_source"`

	Backend  BackendConfig  `koanf:"backend"`
	Server   ServerConfig   `koanf:"server"`
	Executor ExecutorConfig `koanf:"executor"`
}

// BackendConfig points at the assistant backend API.
type BackendConfig struct {
	URL string `koanf:"url"`
	// Timeout bounds non-streaming calls, in seconds. Generation streams
	// are bounded by their request context instead.
	Timeout int `koanf:"timeout"`
}

// ServerConfig configures the web UI server.
type ServerConfig struct {
	Port          int    `koanf:"port"`
	SessionSecret string `koanf:"session_secret"`
	Watch         bool   `koanf:"watch"`
}

// ExecutorConfig selects how SQL is executed: "remote" through the backend,
// or "local" directly against a configured target.
type ExecutorConfig struct {
	Mode   string       `koanf:"mode"`
	Target TargetConfig `koanf:"target"`
}

// TargetConfig describes the database for the local executor.
type TargetConfig struct {
	Dialect  string `koanf:"dialect"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	Path     string `koanf:"path"`
}
