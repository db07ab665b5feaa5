package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Package-level koanf instance and config file tracking.
var (
	k              = koanf.New(".")
	configFileUsed string
)

// flagKeyOverrides maps CLI flag names to config keys where the flag name
// is shorter than the key it sets.
var flagKeyOverrides = map[string]string{
	"store":          "store_path",
	"source":         "default_source",
	"backend-url":    "backend.url",
	"port":           "server.port",
	"session-secret": "server.session_secret",
	"watch":          "server.watch",
}

// findConfigFile finds the config file to use.
// Priority: explicit path > leapchat.yaml > leapchat.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"leapchat.yaml", "leapchat.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
}

// Load loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"store_path":      DefaultStorePath,
		"verbose":         false,
		"output":          DefaultOutput,
		"backend.url":     DefaultBackendURL,
		"backend.timeout": DefaultTimeout,
		"server.port":     DefaultPort,
		"executor.mode":   DefaultExecMode,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Environment variables (LEAPCHAT_ prefix).
	// Double underscore nests: LEAPCHAT_BACKEND__URL -> backend.url,
	// LEAPCHAT_STORE_PATH -> store_path.
	if err := k.Load(env.Provider("LEAPCHAT_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "LEAPCHAT_"))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			if key, ok := flagKeyOverrides[f.Name]; ok {
				return key, posflag.FlagVal(flags, f)
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Expand ${VAR} references in credentials
	cfg.Executor.Target.Password = expandEnvVars(cfg.Executor.Target.Password)
	cfg.Executor.Target.User = expandEnvVars(cfg.Executor.Target.User)
	cfg.Server.SessionSecret = expandEnvVars(cfg.Server.SessionSecret)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

func validate(cfg *Config) error {
	switch cfg.Executor.Mode {
	case "remote":
	case "local":
		if cfg.Executor.Target.Dialect == "" {
			return fmt.Errorf("executor.mode is local but executor.target.dialect is empty")
		}
	default:
		return fmt.Errorf("invalid executor.mode %q (want remote or local)", cfg.Executor.Mode)
	}
	if cfg.Backend.URL == "" {
		return fmt.Errorf("backend.url must not be empty")
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment
// variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}
