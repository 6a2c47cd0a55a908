package config_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/config"
	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
publish_timeout: 2s
listener_timeout: 250ms
fatal_kinds: [timeout]
max_async: 8
metrics: prometheus
tracing: true
log_level: debug
sink: memory
sink_capacity: 50
`

func TestFromYAML_Decode(t *testing.T) {
	raw, err := config.FromYAML([]byte(sampleYAML))
	require.NoError(t, err)

	s := config.Default()
	require.NoError(t, config.Decode(raw, &s))

	assert.Equal(t, 2*time.Second, s.PublishTimeout)
	assert.Equal(t, 250*time.Millisecond, s.ListenerTimeout)
	assert.Equal(t, 5*time.Minute, s.CorrelationTimeout, "unset keys keep defaults")
	assert.Equal(t, []string{"timeout"}, s.FatalKinds)
	assert.Equal(t, 8, s.MaxAsync)
	assert.Equal(t, config.MetricsPrometheus, s.Metrics)
	assert.True(t, s.Tracing)
	assert.Equal(t, config.SinkMemory, s.Sink)
	assert.Equal(t, 50, s.SinkCapacity)
	require.NoError(t, s.Validate())
}

func TestFromJSON(t *testing.T) {
	raw, err := config.FromJSON([]byte(`{"publish_timeout":"1m","fatal_kinds":"timeout, cancelled"}`))
	require.NoError(t, err)

	s := config.Default()
	require.NoError(t, config.Decode(raw, &s))
	assert.Equal(t, time.Minute, s.PublishTimeout)

	kinds, err := s.Kinds()
	require.NoError(t, err)
	assert.Equal(t, []dkerrors.Kind{dkerrors.KindTimeout, dkerrors.KindCancelled}, kinds)
}

func TestDecode_UnknownKey(t *testing.T) {
	s := config.Default()
	err := config.Decode(map[string]any{"publish_timout": "1s"}, &s)
	assert.ErrorIs(t, err, dkerrors.ErrConfiguration)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "dispatch.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(sampleYAML), 0o600))
	raw, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "memory", raw["sink"])

	txtPath := filepath.Join(dir, "dispatch.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o600))
	_, err = config.FromFile(txtPath)
	assert.Error(t, err)

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFromLookuper_OverridesFile(t *testing.T) {
	raw, err := config.FromYAML([]byte(sampleYAML))
	require.NoError(t, err)
	s := config.Default()
	require.NoError(t, config.Decode(raw, &s))

	env := envconfig.MapLookuper(map[string]string{
		"DISPATCHKIT_PUBLISH_TIMEOUT": "30s",
		"DISPATCHKIT_SINK":            "sqlite",
		"DISPATCHKIT_SINK_PATH":       "/tmp/failures.db",
	})
	require.NoError(t, config.FromLookuper(context.Background(), &s, env))

	assert.Equal(t, 30*time.Second, s.PublishTimeout)
	assert.Equal(t, config.SinkSQLite, s.Sink)
	assert.Equal(t, 8, s.MaxAsync, "unset variables keep file values")
	require.NoError(t, s.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yml")
	require.NoError(t, os.WriteFile(path, []byte("max_async: 3\n"), 0o600))
	t.Setenv("DISPATCHKIT_LOG_LEVEL", "warn")

	s, err := config.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, s.MaxAsync)
	assert.Equal(t, "warn", s.LogLevel)
}

func TestLoad_InvalidFails(t *testing.T) {
	t.Setenv("DISPATCHKIT_METRICS", "statsd")

	_, err := config.Load(context.Background(), "")
	assert.ErrorIs(t, err, dkerrors.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Settings)
		field  string
	}{
		{"negative publish timeout", func(s *config.Settings) { s.PublishTimeout = -1 }, "publish_timeout"},
		{"negative listener timeout", func(s *config.Settings) { s.ListenerTimeout = -1 }, "listener_timeout"},
		{"negative correlation timeout", func(s *config.Settings) { s.CorrelationTimeout = -1 }, "correlation_timeout"},
		{"negative max async", func(s *config.Settings) { s.MaxAsync = -1 }, "max_async"},
		{"negative capacity", func(s *config.Settings) { s.SinkCapacity = -1 }, "sink_capacity"},
		{"unknown metrics", func(s *config.Settings) { s.Metrics = "statsd" }, "metrics"},
		{"unknown sink", func(s *config.Settings) { s.Sink = "kafka" }, "sink"},
		{"sqlite without path", func(s *config.Settings) { s.Sink = config.SinkSQLite }, "sink_path"},
		{"bad level", func(s *config.Settings) { s.LogLevel = "loud" }, "log_level"},
		{"bad fatal kind", func(s *config.Settings) { s.FatalKinds = []string{"oops"} }, "fatal_kinds"},
	}

	require.NoError(t, config.Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.Default()
			tt.modify(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, dkerrors.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := config.NewLogger(&buf, "warn")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = config.NewLogger(&buf, "loud")
	assert.ErrorIs(t, err, dkerrors.ErrConfiguration)
}
