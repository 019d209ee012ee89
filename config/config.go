// Package config loads client settings from the environment, .env files and
// YAML files.
//
// Values resolve in this order, later sources winning: built-in defaults,
// the YAML file, .env files, the process environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/flagcore/client"
	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/model"
)

// Settings configures a client and the engine it runs on. Fields without
// an environment variable keep their default or file value.
type Settings struct {
	SDKKey      string `env:"FLAGCORE_SDK_KEY" yaml:"sdk_key"`
	Environment string `env:"FLAGCORE_ENVIRONMENT" yaml:"environment"`
	SpecsURL    string `env:"FLAGCORE_SPECS_URL" yaml:"specs_url"`
	LogEventURL string `env:"FLAGCORE_LOG_EVENT_URL" yaml:"log_event_url"`

	// SpecsFile is a JSON or YAML specs document served by the engine.
	SpecsFile string `env:"FLAGCORE_SPECS_FILE" yaml:"specs_file"`

	EventLoggingFlushIntervalMs int32 `env:"FLAGCORE_EVENT_FLUSH_INTERVAL_MS" yaml:"event_logging_flush_interval_ms"`
	EventLoggingMaxQueueSize    int32 `env:"FLAGCORE_EVENT_MAX_QUEUE_SIZE" yaml:"event_logging_max_queue_size"`
	SpecsSyncIntervalMs         int32 `env:"FLAGCORE_SPECS_SYNC_INTERVAL_MS" yaml:"specs_sync_interval_ms"`

	OutputLogLevel         string `env:"FLAGCORE_LOG_LEVEL" yaml:"output_log_level"`
	DisableAllLogging      bool   `env:"FLAGCORE_DISABLE_ALL_LOGGING" yaml:"disable_all_logging"`
	DisableExposureLogging bool   `env:"FLAGCORE_DISABLE_EXPOSURE_LOGGING" yaml:"disable_exposure_logging"`

	// EngineModule selects the WebAssembly engine. Empty means in-process.
	EngineModule      string `env:"FLAGCORE_ENGINE_MODULE" yaml:"engine_module"`
	EngineMemoryPages uint32 `env:"FLAGCORE_ENGINE_MEMORY_PAGES" yaml:"engine_memory_pages"`

	RedisURL    string `env:"FLAGCORE_REDIS_URL" yaml:"redis_url"`
	PostgresURL string `env:"FLAGCORE_POSTGRES_URL" yaml:"postgres_url"`
}

// Defaults returns settings that leave every engine default in place.
func Defaults() Settings {
	return Settings{
		EventLoggingFlushIntervalMs: -1,
		EventLoggingMaxQueueSize:    -1,
		SpecsSyncIntervalMs:         -1,
		OutputLogLevel:              "info",
	}
}

var defaultEnvLoaded sync.Once

// Load resolves settings from the environment. With no paths the .env file
// in the working directory is loaded if present; with paths each must exist.
func Load(paths ...string) (Settings, error) {
	s := Defaults()
	if err := loadDotEnv(paths); err != nil {
		return s, err
	}
	return s, parseEnv(&s)
}

// LoadFile resolves settings from a YAML file, then the environment.
func LoadFile(path string, envPaths ...string) (Settings, error) {
	s := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read settings file")
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode settings file "+path)
	}
	if err := loadDotEnv(envPaths); err != nil {
		return s, err
	}
	return s, parseEnv(&s)
}

func loadDotEnv(paths []string) error {
	if len(paths) == 0 {
		defaultEnvLoaded.Do(func() {
			// A missing .env file is fine.
			_ = godotenv.Load()
		})
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "load env files")
	}
	return nil
}

func parseEnv(s *Settings) error {
	if err := env.Parse(s); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse environment")
	}
	return nil
}

// Validate reports settings a client cannot start with.
func (s Settings) Validate() error {
	if s.SDKKey == "" {
		return errors.InvalidInput(errors.PhaseConfig, "sdk key is required (FLAGCORE_SDK_KEY)")
	}
	switch strings.ToLower(s.OutputLogLevel) {
	case "", "debug", "info", "warn", "error", "none":
	default:
		return errors.InvalidInput(errors.PhaseConfig, "unknown log level "+s.OutputLogLevel)
	}
	return nil
}

// OptionsBuilder returns a builder preloaded with s. Adapters are not set;
// the caller attaches them.
func (s Settings) OptionsBuilder() (*client.OptionsBuilder, error) {
	b := client.NewOptionsBuilder().
		WithEnvironment(s.Environment).
		WithSpecsURL(s.SpecsURL).
		WithLogEventURL(s.LogEventURL).
		WithEventLoggingFlushIntervalMs(s.EventLoggingFlushIntervalMs).
		WithEventLoggingMaxQueueSize(s.EventLoggingMaxQueueSize).
		WithSpecsSyncIntervalMs(s.SpecsSyncIntervalMs).
		WithOutputLogLevel(s.OutputLogLevel).
		WithDisableAllLogging(s.DisableAllLogging).
		WithDisableExposureLogging(s.DisableExposureLogging)

	if s.SpecsFile != "" {
		doc, err := LoadSpecs(s.SpecsFile)
		if err != nil {
			return nil, err
		}
		b.WithSpecs(doc)
	}
	return b, nil
}

// LoadSpecs reads a specs document. Files ending in .yaml or .yml are YAML,
// everything else JSON.
func LoadSpecs(path string) (*model.SpecsDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read specs file")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc model.SpecsDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode specs file "+path)
		}
		return &doc, nil
	default:
		doc, err := model.ParseSpecs(data)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode specs file "+path)
		}
		return doc, nil
	}
}
