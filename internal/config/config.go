// Package config loads pipeline configuration from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix scopes the environment variables this process reads.
// LLMTAP_RECORDER_CAPACITY is the documented override for the recorder's
// pending-exchange bound.
const EnvPrefix = "LLMTAP_"

type Config struct {
	Recorder RecorderConfig `koanf:"recorder"`
	Index    IndexConfig    `koanf:"index"`
	Debug    DebugConfig    `koanf:"debug"`
	Replay   ReplayConfig   `koanf:"replay"`
	Export   ExportConfig   `koanf:"export"`
	Log      LogConfig      `koanf:"log"`
}

type RecorderConfig struct {
	// Path of the HAR archive to write. Empty disables recording.
	Path string `koanf:"path"`
	// Capacity bounds concurrently open pending exchanges. Minimum 1.
	Capacity int `koanf:"capacity"`
}

type IndexConfig struct {
	// Path of the SQLite exchange index. Empty disables indexing.
	Path string `koanf:"path"`
}

type DebugConfig struct {
	Enabled bool `koanf:"enabled"`
	Port    int  `koanf:"port"`
}

type ReplayConfig struct {
	// Path of an archive to replay.
	Path string `koanf:"path"`
}

type ExportConfig struct {
	// URL of a webhook that receives each completed exchange. Empty
	// disables export.
	URL string `koanf:"url"`
	// Retries per delivery after the first attempt.
	Retries int `koanf:"retries"`
	// TimeoutSeconds bounds each delivery attempt.
	TimeoutSeconds int `koanf:"timeout"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// Load reads configuration, environment last so it overrides the file. The
// file path comes from LLMTAP_CONFIG when set.
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Default values
	if !k.Exists("recorder.capacity") {
		k.Set("recorder.capacity", 256)
	}
	if !k.Exists("debug.port") {
		k.Set("debug.port", 8484)
	}
	if !k.Exists("log.level") {
		k.Set("log.level", "info")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Recorder.Capacity < 1 {
		cfg.Recorder.Capacity = 1
	}

	return &cfg, nil
}
