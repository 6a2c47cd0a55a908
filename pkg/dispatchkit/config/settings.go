package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"github.com/sethvargo/go-envconfig"
)

// Metrics backends.
const (
	MetricsNone       = "none"
	MetricsOtel       = "otel"
	MetricsPrometheus = "prometheus"
)

// Sink kinds.
const (
	SinkLog    = "log"
	SinkMemory = "memory"
	SinkSQLite = "sqlite"
)

// Settings configures a dispatcher and its supporting parts.
type Settings struct {
	// PublishTimeout bounds each publish. Zero means unbounded.
	PublishTimeout time.Duration `mapstructure:"publish_timeout" env:"DISPATCHKIT_PUBLISH_TIMEOUT,overwrite"`

	// ListenerTimeout bounds each listener invocation that sets no
	// timeout of its own. Zero means unbounded.
	ListenerTimeout time.Duration `mapstructure:"listener_timeout" env:"DISPATCHKIT_LISTENER_TIMEOUT,overwrite"`

	// CorrelationTimeout is the default for correlation waits.
	CorrelationTimeout time.Duration `mapstructure:"correlation_timeout" env:"DISPATCHKIT_CORRELATION_TIMEOUT,overwrite"`

	// FatalKinds lists error kinds that abort a publish, e.g. "timeout".
	FatalKinds []string `mapstructure:"fatal_kinds" env:"DISPATCHKIT_FATAL_KINDS,overwrite"`

	// MaxAsync bounds concurrently running fire-and-forget publishes.
	// Zero means unbounded.
	MaxAsync int `mapstructure:"max_async" env:"DISPATCHKIT_MAX_ASYNC,overwrite"`

	// Metrics selects the backend: none, otel or prometheus.
	Metrics string `mapstructure:"metrics" env:"DISPATCHKIT_METRICS,overwrite"`

	// Tracing enables OpenTelemetry spans.
	Tracing bool `mapstructure:"tracing" env:"DISPATCHKIT_TRACING,overwrite"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"log_level" env:"DISPATCHKIT_LOG_LEVEL,overwrite"`

	// Sink selects where listener failures go: log, memory or sqlite.
	Sink string `mapstructure:"sink" env:"DISPATCHKIT_SINK,overwrite"`

	// SinkPath is the database file for the sqlite sink.
	SinkPath string `mapstructure:"sink_path" env:"DISPATCHKIT_SINK_PATH,overwrite"`

	// SinkCapacity bounds the memory sink.
	SinkCapacity int `mapstructure:"sink_capacity" env:"DISPATCHKIT_SINK_CAPACITY,overwrite"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		CorrelationTimeout: 5 * time.Minute,
		MaxAsync:           64,
		Metrics:            MetricsNone,
		LogLevel:           "info",
		Sink:               SinkLog,
		SinkCapacity:       10000,
	}
}

// Decode applies raw values onto s. Durations may be given as strings
// such as "1.5s"; lists may be given as comma-separated strings.
// Unknown keys are an error.
func Decode(raw map[string]any, s *Settings) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           s,
	})
	if err != nil {
		return dkerrors.Configuration("config.decode", err)
	}
	if err := dec.Decode(raw); err != nil {
		return dkerrors.Configuration("config.decode", err)
	}
	return nil
}

// FromEnv overlays DISPATCHKIT_* environment variables onto s.
func FromEnv(ctx context.Context, s *Settings) error {
	return FromLookuper(ctx, s, envconfig.OsLookuper())
}

// FromLookuper overlays variables from l onto s.
func FromLookuper(ctx context.Context, s *Settings, l envconfig.Lookuper) error {
	if err := envconfig.ProcessWith(ctx, s, l); err != nil {
		return dkerrors.Configuration("config.env", err)
	}
	return nil
}

// Load builds Settings from defaults, then the file at path (if any),
// then the environment, and validates the result.
func Load(ctx context.Context, path string) (Settings, error) {
	s := Default()
	if path != "" {
		raw, err := FromFile(path)
		if err != nil {
			return Settings{}, dkerrors.Configuration("config.load", err)
		}
		if err := Decode(raw, &s); err != nil {
			return Settings{}, err
		}
	}
	if err := FromEnv(ctx, &s); err != nil {
		return Settings{}, err
	}
	return s, s.Validate()
}

// Validate reports the first invalid setting as a Configuration error.
func (s Settings) Validate() error {
	invalid := func(field, reason string) error {
		return dkerrors.Configuration("config.validate", fmt.Errorf("%s: %s", field, reason))
	}

	switch {
	case s.PublishTimeout < 0:
		return invalid("publish_timeout", "must not be negative")
	case s.ListenerTimeout < 0:
		return invalid("listener_timeout", "must not be negative")
	case s.CorrelationTimeout < 0:
		return invalid("correlation_timeout", "must not be negative")
	case s.MaxAsync < 0:
		return invalid("max_async", "must not be negative")
	case s.SinkCapacity < 0:
		return invalid("sink_capacity", "must not be negative")
	}

	switch s.Metrics {
	case "", MetricsNone, MetricsOtel, MetricsPrometheus:
	default:
		return invalid("metrics", fmt.Sprintf("unknown backend %q", s.Metrics))
	}

	switch s.Sink {
	case "", SinkLog, SinkMemory:
	case SinkSQLite:
		if s.SinkPath == "" {
			return invalid("sink_path", "required for the sqlite sink")
		}
	default:
		return invalid("sink", fmt.Sprintf("unknown sink %q", s.Sink))
	}

	if _, err := ParseLevel(s.LogLevel); err != nil {
		return invalid("log_level", err.Error())
	}
	if _, err := s.Kinds(); err != nil {
		return invalid("fatal_kinds", err.Error())
	}
	return nil
}

// Kinds parses FatalKinds.
func (s Settings) Kinds() ([]dkerrors.Kind, error) {
	kinds := make([]dkerrors.Kind, 0, len(s.FatalKinds))
	for _, name := range s.FatalKinds {
		if strings.TrimSpace(name) == "" {
			continue
		}
		k, err := dkerrors.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// ParseLevel parses a log level name. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(name) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// NewLogger returns a JSON logger writing to w at the named level.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, dkerrors.Configuration("config.logger", err)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
