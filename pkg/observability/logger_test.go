package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/platinummonkey/tenancy/pkg/contextkeys"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
		"verbose": InfoLevel,
		"":        InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
	assert.Equal(t, "WARN", WarnLevel.String())
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.WithField("port", 8080).WithError(errors.New("bind failed")).Warnf("Server %s", "stopped")
	line := decodeLine(t, &buf)
	assert.Equal(t, "Server stopped", line["msg"])
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, float64(8080), line["port"])
	assert.Equal(t, "bind failed", line["error"])
}

func TestFromContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "request")
	defer span.End()
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithUserID(ctx, 42)

	var buf bytes.Buffer
	FromContext(ctx, NewLogger(InfoLevel, &buf)).Info("handled")
	line := decodeLine(t, &buf)
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, float64(42), line["user_id"])
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])

	log, hook := test.NewNullLogger()
	EntryFromContext(ctx, log).Info("handled")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "req-1", hook.LastEntry().Data["request_id"])

	assert.Empty(t, RequestFields(context.Background()))
}

func TestNewComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewComponentLogger(DebugLevel, &buf, true)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("tenant_id", 4).Debug("Tenant approved")
	line := decodeLine(t, &buf)
	assert.Equal(t, "Tenant approved", line["msg"])
	assert.Equal(t, float64(4), line["tenant_id"])
}

func TestRecoverPanic(t *testing.T) {
	log, hook := test.NewNullLogger()

	assert.NotPanics(t, func() {
		defer RecoverPanic(log, "sweep")
		panic("boom")
	})
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "PANIC recovered", hook.LastEntry().Message)
	assert.Equal(t, "boom", hook.LastEntry().Data["panic"])
	assert.Equal(t, "sweep", hook.LastEntry().Data["context"])

	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("bad"), "panic: bad")
}
