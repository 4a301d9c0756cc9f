package main

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the esbridge CLI configuration.
type Config struct {
	Library      string        `koanf:"library"`       // native shared library path
	Module       string        `koanf:"module"`        // WASI module path
	FileChannels bool          `koanf:"file_channels"` // file-backed sandbox stdio
	Timeout      time.Duration `koanf:"timeout"`       // per-call sandbox timeout
	CacheDir     string        `koanf:"cache_dir"`     // wasm compilation cache
	Listen       string        `koanf:"listen"`        // serve address
}

// LoadConfig merges YAML (if present) with env vars
// (prefix `ESBRIDGE__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	_ = k.Load(env.Provider("ESBRIDGE__", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "ESBRIDGE__"))
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
}
