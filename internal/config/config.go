package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

const (
	BackendFile = "file"
	BackendSSM  = "ssm"
)

type Config struct {
	Credential Credential `mapstructure:"credential"`
	Replicate  Replicate  `mapstructure:"replicate"`
	HTTP       HTTP       `mapstructure:"http"`
	Poll       Poll       `mapstructure:"poll"`
	Server     Server     `mapstructure:"server"`
	Log        Log        `mapstructure:"log"`
}

type Credential struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	Parameter string `mapstructure:"parameter"`
}

type Replicate struct {
	BaseURL string `mapstructure:"base_url"`
}

type HTTP struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type Poll struct {
	MaxWait time.Duration `mapstructure:"max_wait"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

// Load reads an optional .env file, an optional YAML file and IMAGEGEN_*
// environment variables, in increasing order of precedence.
func Load(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("credential.backend", BackendFile)
	v.SetDefault("credential.path", "")
	v.SetDefault("credential.parameter", "/imagegen/replicate_api_key")
	v.SetDefault("replicate.base_url", "https://api.replicate.com")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("poll.max_wait", time.Duration(0))
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("imagegen")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename != "" {
		v.SetConfigFile(filename)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg.Credential.Backend = strings.ToLower(strings.TrimSpace(cfg.Credential.Backend))
	if !lo.Contains([]string{BackendFile, BackendSSM}, cfg.Credential.Backend) {
		return nil, errors.New("credential.backend must be file or ssm, got " + cfg.Credential.Backend)
	}
	if cfg.Poll.MaxWait < 0 {
		return nil, errors.New("poll.max_wait must not be negative")
	}
	return cfg, nil
}
