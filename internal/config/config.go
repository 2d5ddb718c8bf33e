// Package config loads the settings of the entitydb commands from flags, the environment and an
// optional config file.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix of the environment variables, ENTITYDB_URL for example.
	EnvPrefix = "ENTITYDB"

	DefaultURL  = "memory://"
	DefaultHost = "0.0.0.0"
	DefaultPort = 8080
)

type Config struct {
	URL          string `json:"url" mapstructure:"url"`
	Schema       string `json:"schema" mapstructure:"schema"`
	MaxBatchRows int    `json:"max_batch_rows" mapstructure:"max_batch_rows"`
	Verbose      bool   `json:"verbose" mapstructure:"verbose"`
	Silent       bool   `json:"silent" mapstructure:"silent"`
	Server       Server `json:"server" mapstructure:"server"`
}

type Server struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// Init loads .env files and reads the config file into v. An empty filename looks for
// entitydb.{yaml,json,toml} in the working directory, it is not an error if none exists.
func Init(v *viper.Viper, filename string) error {
	if err := godotenv.Load(); err != nil {
		godotenv.Load(".env.local")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetDefault("url", DefaultURL)
	v.SetDefault("schema", "")
	v.SetDefault("max_batch_rows", 0)
	v.SetDefault("verbose", false)
	v.SetDefault("silent", false)
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", filename, err)
		}
		return nil
	}
	v.AddConfigPath(".")
	v.SetConfigName("entitydb")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Load unmarshals and validates the config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("invalid url %q: missing scheme", c.URL)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.MaxBatchRows < 0 {
		return fmt.Errorf("invalid max_batch_rows: %d", c.MaxBatchRows)
	}
	if c.Verbose && c.Silent {
		return fmt.Errorf("verbose and silent cannot be used together")
	}
	return nil
}

// Address returns the listen address of the server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
