package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EXTRACT"

const (
	FormatPlain = "plain"
	FormatText  = "text"
	FormatJSON  = "json"
)

// Config contains the settings of the extractor. They come from the
// environment only, the command line takes nothing but the wallet path.
type Config struct {
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"plain"`
	MasterKeyID uint32 `envconfig:"MKEY_ID" default:"1"`
	Table       string `envconfig:"TABLE" default:"main"`
}

// Load reads the configuration from EXTRACT_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Level returns the parsed log level.
func (c *Config) Level() log.Level {
	// nolint
	lvl, _ := log.ParseLevel(c.LogLevel)
	return lvl
}

func (c *Config) validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid %s_LOG_LEVEL: %w", EnvPrefix, err)
	}
	switch c.LogFormat {
	case FormatPlain, FormatText, FormatJSON:
	default:
		return fmt.Errorf(
			"invalid %s_LOG_FORMAT %q, must be one of %s, %s, %s",
			EnvPrefix, c.LogFormat, FormatPlain, FormatText, FormatJSON,
		)
	}
	if c.Table == "" {
		return fmt.Errorf("%s_TABLE must not be empty", EnvPrefix)
	}
	return nil
}
