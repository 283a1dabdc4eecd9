package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/refspace-go/internal/localbus"
	"github.com/rmacdonaldsmith/refspace-go/internal/refstore"
	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		" WARN ":   zerolog.WarnLevel,
		"trace":    zerolog.TraceLevel,
		"disabled": zerolog.Disabled,
		"":         zerolog.InfoLevel,
		"chatty":   zerolog.InfoLevel,
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), "level %q", input)
	}
}

func TestInitLogger(t *testing.T) {
	saved := log.Logger
	defer func() { log.Logger = saved }()

	var buf bytes.Buffer
	t.Setenv(LogLevelEnv, "")
	logger := initLogger(&buf, "refspace-test", "warn")
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "refspace-test")

	t.Setenv(LogLevelEnv, "debug")
	logger = initLogger(&buf, "refspace-test", "warn")
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
}

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("node-a", "GET", "/api/v1/health", 200, 12*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("node-a", "GET", "/api/v1/health", "200")))
}

func TestStoreMetrics(t *testing.T) {
	newStore := func(id string) *refstore.Store {
		s, err := refstore.NewStore(refstore.NewConfig(id).WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		s.AddListener(NewStoreMetrics(id))
		return s
	}
	a := newStore("metrics-a")
	b := newStore("metrics-b")
	_, _, err := localbus.Connect(a, b)
	require.NoError(t, err)

	fn, err := a.Export(refspace.Func(func(ctx context.Context, args ...any) (any, error) {
		return "pong", nil
	}), refspace.WithRef("api", "ping"))
	require.NoError(t, err)

	p, err := b.Proxy(fn.Descriptor())
	require.NoError(t, err)
	f, err := p.Call(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", v)

	assert.Equal(t, 1.0, testutil.ToFloat64(refsAdded.WithLabelValues("metrics-a", "function")))
	assert.Equal(t, 1.0, testutil.ToFloat64(peersAdded.WithLabelValues("metrics-b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(callsSent.WithLabelValues("metrics-b", "metrics-a")))
}
