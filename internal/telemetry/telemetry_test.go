package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledWithoutEndpoint(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	_, span := p.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestExportsSpansWithResource(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p, err := New(context.Background(), Config{
		ServiceName:    "ndv-test",
		ServiceVersion: "1.2.3",
		Attributes:     []attribute.KeyValue{attribute.String("ndv.profile", "dev")},
		Exporter:       exp,
	})
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	_, span := p.Tracer("test").Start(context.Background(), "ndv.connect")
	span.End()
	require.NoError(t, p.sdk.ForceFlush(context.Background()))
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ndv.connect", spans[0].Name)

	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "ndv-test", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
	assert.Equal(t, "dev", attrs["ndv.profile"])
}
