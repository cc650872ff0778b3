package output

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mrzor/logincap/internal/aggregator"
	"github.com/mrzor/logincap/internal/headerset"
	"github.com/mrzor/logincap/internal/message"
	"github.com/mrzor/logincap/internal/pyjson"
	"github.com/mrzor/logincap/internal/qualify"
)

func capture(t *testing.T, headers ...string) *aggregator.CaptureResult {
	t.Helper()
	agg := aggregator.New(qualify.MustDefault())
	for _, h := range headers {
		_, err := agg.Handle(message.Header(h))
		require.NoError(t, err)
	}
	result, err := agg.Handle(message.Data(`{"scheme":"s","language":"en","payload":"p"}`))
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestFormatter_Write(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf).Write(capture(t, "A: 1", "B: 2")))

	assert.Equal(t,
		`{"body": "{\"scheme\": \"s\", \"language\": \"en\", \"payload\": \"p\"}", "headers": {"A": "1", "B": "2"}}`+"\n",
		buf.String())
}

func TestFormatter_HeaderOrderAndEscapes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf).Write(capture(t, "Zeta: z", "X-Name: café", "Alpha: \"q\"")))

	assert.Contains(t, buf.String(), `"headers": {"Zeta": "z", "X-Name": "caf\u00e9", "Alpha": "\"q\""}`)
}

func TestFormatter_NoHeaders(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf).Write(capture(t)))
	assert.Contains(t, buf.String(), `"headers": {}}`)
}

func TestFormatter_NilResult(t *testing.T) {
	var buf bytes.Buffer
	err := NewFormatter(&buf).Write(nil)
	assert.True(t, errors.Is(err, ErrNoResult))
	assert.Zero(t, buf.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestFormatter_WriteError(t *testing.T) {
	err := NewFormatter(failingWriter{}).Write(capture(t, "A: 1"))
	assert.ErrorContains(t, err, "broken pipe")
}

func TestRecord_SnapshotNotAffectedByLaterHeaders(t *testing.T) {
	set := headerset.New()
	set.Add(headerset.Record{Name: "A", Value: "1"})
	result := &aggregator.CaptureResult{Body: "{}", Headers: set.Snapshot()}
	set.Add(headerset.Record{Name: "B", Value: "2"})

	record, err := Record(result)
	require.NoError(t, err)
	headers, ok := record.Get("headers")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"A": "1"}, headers.(*pyjson.Object).Map())
}

func TestOTELFormatter(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := tp.Tracer("test").Start(context.Background(), "logincap.capture")

	f := NewOTELFormatter(span)
	f.HandleTarget(4242, "SkyrimSE.exe")
	f.HandleStats(aggregator.Stats{Notifications: 4, Headers: 2, Discarded: 1})
	f.HandleResult(capture(t, "A: 1", "B: 2"), nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	assert.Equal(t, int64(4242), got["logincap.target.pid"].AsInt64())
	assert.Equal(t, "SkyrimSE.exe", got["logincap.target.name"].AsString())
	assert.Equal(t, int64(4), got["logincap.notifications"].AsInt64())
	assert.Equal(t, int64(1), got["logincap.discarded"].AsInt64())
	assert.Equal(t, int64(2), got["logincap.headers"].AsInt64())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
}

func TestOTELFormatter_Error(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := tp.Tracer("test").Start(context.Background(), "logincap.capture")

	NewOTELFormatter(span).HandleResult(nil, context.Canceled)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	require.Len(t, ended[0].Events(), 1)
}
