package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the application configuration, loaded from config.yaml in the
// user config directory and overridable via flags.
type Config struct {
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Stream      StreamConfig      `mapstructure:"stream"`
	API         APIConfig         `mapstructure:"api"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Advanced    AdvancedConfig    `mapstructure:"advanced"`
}

// CredentialsConfig holds the MLB.tv account used for headless login.
// Values are optional; the browser login flow works without them.
type CredentialsConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// StreamConfig controls feed selection and the external player.
type StreamConfig struct {
	Player string `mapstructure:"player"` // binary name or path, e.g. "mpv"
	Feed   string `mapstructure:"feed"`   // preferred feed: home, away, national
}

// APIConfig holds network settings shared by all API clients.
type APIConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	Color      bool   `mapstructure:"color"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AdvancedConfig holds debugging switches.
type AdvancedConfig struct {
	Debug bool `mapstructure:"debug"`
}

const appName = "mlbv"

// SetDefaults registers default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("stream.player", "mpv")
	v.SetDefault("stream.feed", "")

	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.color", true)
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	v.SetDefault("advanced.debug", false)
}

// Load reads configuration from the given file, or from the default location
// when cfgFile is empty. A missing config file is not an error: defaults apply
// and the anonymous schedule commands work without any configuration.
func Load(cfgFile string) (*Config, *viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
	}

	v.SetEnvPrefix("MLBV")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, v, nil
}

// InitializeDirs creates the config and state directories if missing.
func InitializeDirs() error {
	for _, dir := range []string{ConfigDir(), StateDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigDir returns the per-user configuration directory.
func ConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName)
}

// StateDir returns the per-user state directory used for logs.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", appName)
}

// SessionFile returns the path of the stored credential document.
func SessionFile() string {
	return filepath.Join(ConfigDir(), "session.json")
}
