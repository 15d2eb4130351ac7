package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SIMPIN"

// Config is the runtime configuration. Everything has a working default; a
// config file and SIMPIN_* environment variables can override it.
type Config struct {
	Interval         time.Duration `mapstructure:"interval"`
	FailureThreshold int           `mapstructure:"failureThreshold"`
	CaseInsensitive  bool          `mapstructure:"caseInsensitive"`
	Database         string        `mapstructure:"database"`
}

// Load reads configuration from config.yaml in dir (or the per-user config
// directory when dir is empty) and the environment. A missing config file is
// fine; a malformed one is not.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir == "" {
		dir = DefaultDir()
	}
	v.AddConfigPath(dir)

	v.SetDefault("interval", 5*time.Second)
	v.SetDefault("failureThreshold", 3)
	v.SetDefault("caseInsensitive", false)
	v.SetDefault("database", filepath.Join(DefaultDir(), "store.sqlite"))

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultDir is where the config file, rule database and log file live by
// default.
func DefaultDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(base, "simpin")
}
