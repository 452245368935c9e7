// Package config loads runtime settings for rebuilding and serving a pipeline.
//
// Settings come from an optional YAML file overlaid with environment variables
// prefixed FASTINFER__, where "__" separates nested keys:
//
//	FASTINFER__ARTIFACT_DIR=/models/pets
//	FASTINFER__REMOTE__BUCKET=my-exports
package config

import (
	"io/fs"
	"strings"

	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"github.com/YuminosukeSato/fastinference/pkg/log"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// SupportedSchema is the only accepted schema_version.
const SupportedSchema = "v1"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FASTINFER__"

// Config describes where artifacts live and how the model runs.
type Config struct {
	SchemaVersion string `koanf:"schema_version"`

	ArtifactDir string `koanf:"artifact_dir"`
	DataFile    string `koanf:"data_file"`  // transform description, default "data"
	ModelFile   string `koanf:"model_file"` // default "model"

	Device         string `koanf:"device"`
	CPU            bool   `koanf:"cpu"` // default true
	ONNX           bool   `koanf:"onnx"`
	ONNXRuntimeLib string `koanf:"onnx_runtime_lib"`

	LogLevel string `koanf:"log_level"`

	Remote  RemoteConfig  `koanf:"remote"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// RemoteConfig points at a GCS bucket holding the artifacts. An empty Bucket
// means artifacts are read from ArtifactDir directly.
type RemoteConfig struct {
	Bucket   string `koanf:"bucket"`
	Prefix   string `koanf:"prefix"`
	CacheDir string `koanf:"cache_dir"`
}

// MetricsConfig controls the Prometheus recorder.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
	Port      int    `koanf:"port"` // 0 disables the /metrics listener
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	cfg := Config{CPU: true}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = "."
	}
	if cfg.DataFile == "" {
		cfg.DataFile = "data"
	}
	if cfg.ModelFile == "" {
		cfg.ModelFile = "model"
	}
	if cfg.Device == "" {
		if cfg.CPU {
			cfg.Device = string(tensor.CPU)
		} else {
			cfg.Device = "cuda"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Remote.CacheDir == "" {
		cfg.Remote.CacheDir = ".fastinference-cache"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "fastinference"
	}
}

// Load merges the YAML file at path (if present) with FASTINFER__ environment
// variables and applies defaults.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, errors.Wrapf(err, "load config %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, "__", envKey), nil); err != nil {
		return Config{}, errors.Wrap(err, "load environment")
	}

	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, errors.NewValidationError("schema_version", "unsupported, want "+SupportedSchema, sv)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.WrapValueError("config.Load", "cannot decode configuration", err)
	}
	if !k.Exists("cpu") {
		cfg.CPU = tensor.Device(cfg.Device).IsCPU()
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps FASTINFER__REMOTE__BUCKET to remote__bucket; the provider then
// splits on "__".
func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

// Validate checks the device and log level.
func (c Config) Validate() error {
	dev, err := tensor.ParseDevice(c.Device)
	if err != nil {
		return err
	}
	if c.CPU && !dev.IsCPU() {
		return errors.NewValidationError("device", "cpu is set but device is "+c.Device, c.Device)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Metrics.Port < 0 {
		return errors.NewValidationError("metrics.port", "must not be negative", c.Metrics.Port)
	}
	return nil
}

// TargetDevice returns the parsed device.
func (c Config) TargetDevice() tensor.Device {
	if c.CPU {
		return tensor.CPU
	}
	dev, err := tensor.ParseDevice(c.Device)
	if err != nil {
		return tensor.CPU
	}
	return dev
}
