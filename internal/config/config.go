// Package config loads the configuration of the dslflow CLI from defaults, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment variables. DSLFLOW_BACKEND_TYPE sets backend.type.
const EnvPrefix = "DSLFLOW_"

type Config struct {
	Backend  Backend  `koanf:"backend"`
	Executor Executor `koanf:"executor"`
	Log      Log      `koanf:"log"`
	Tracing  Tracing  `koanf:"tracing"`
	Diag     Diag     `koanf:"diag"`
	Subflows Subflows `koanf:"subflows"`
}

type Backend struct {
	Type string `koanf:"type" validate:"oneof=memory file sqlite mysql redis"`

	// Path is the state directory of the file backend or the database file of the
	// sqlite backend.
	Path string `koanf:"path" validate:"required_if=Type file,required_if=Type sqlite"`

	// DSN is the MySQL data source name.
	DSN string `koanf:"dsn" validate:"required_if=Type mysql"`

	RedisAddr     string `koanf:"redis_addr" validate:"required_if=Type redis"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"min=0"`
	KeyPrefix     string `koanf:"key_prefix"`

	// RedisExpiration removes finished runs from Redis after this duration. Zero keeps
	// them.
	RedisExpiration time.Duration `koanf:"redis_expiration" validate:"min=0"`
}

type Executor struct {
	MaxParallel      int           `koanf:"max_parallel" validate:"min=1"`
	WorkDir          string        `koanf:"work_dir"`
	ConditionTimeout time.Duration `koanf:"condition_timeout" validate:"gt=0"`
	Shell            string        `koanf:"shell" validate:"required"`
	EventBuffer      int           `koanf:"event_buffer" validate:"min=1"`
}

type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=pretty text json"`
}

type Tracing struct {
	Exporter string `koanf:"exporter" validate:"oneof=none stdout otlp"`

	// Endpoint of the OTLP/HTTP collector, host:port.
	Endpoint string `koanf:"endpoint" validate:"required_if=Exporter otlp"`
}

type Diag struct {
	Addr string `koanf:"addr" validate:"required"`
}

type Subflows struct {
	// Dir is searched for subflow definitions. Defaults to the directory of the
	// workflow file.
	Dir       string        `koanf:"dir"`
	CacheSize int           `koanf:"cache_size" validate:"min=0"`
	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"min=0"`
}

func Default() *Config {
	return &Config{
		Backend: Backend{
			Type: "file",
			Path: ".dslflow/state",
		},
		Executor: Executor{
			MaxParallel:      4,
			ConditionTimeout: 30 * time.Second,
			Shell:            "/bin/sh -c",
			EventBuffer:      1024,
		},
		Log: Log{
			Level:  "info",
			Format: "pretty",
		},
		Tracing: Tracing{
			Exporter: "none",
		},
		Diag: Diag{
			Addr: "localhost:3000",
		},
		Subflows: Subflows{
			CacheSize: 128,
			CacheTTL:  5 * time.Minute,
		},
	}
}

// Load builds the configuration. Overrides are keyed by koanf path, e.g.
// "executor.max_parallel", and take precedence over the environment.
func Load(overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnvKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(rawMap(overrides), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// transformEnvKey maps DSLFLOW_EXECUTOR_MAX_PARALLEL to executor.max_parallel. Variables
// without a section are ignored.
func transformEnvKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))

	section, field, ok := strings.Cut(key, "_")
	if !ok || section == "" || field == "" {
		return "", nil
	}

	return section + "." + field, value
}

// WorkDir returns the configured working directory, or the current directory.
func (c *Config) WorkDir() (string, error) {
	if c.Executor.WorkDir != "" {
		return c.Executor.WorkDir, nil
	}

	return os.Getwd()
}

type rawMap map[string]any

func (r rawMap) Read() (map[string]any, error) {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}

	return unflatten(out), nil
}

func (r rawMap) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not implemented")
}

// unflatten turns {"a.b": 1} into {"a": {"b": 1}}.
func unflatten(m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		parts := strings.Split(k, ".")

		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[p] = next
			}
			cur = next
		}

		cur[parts[len(parts)-1]] = v
	}

	return out
}
