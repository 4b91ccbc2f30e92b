package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetupDisabledInstallsNoop(t *testing.T) {
	shutdown, err := Setup(false, "")
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, ok := otel.GetTracerProvider().(noop.TracerProvider)
	require.True(t, ok)
}

func TestSetupStdoutExporter(t *testing.T) {
	shutdown, err := Setup(true, "stdout")
	require.NoError(t, err)
	defer shutdown(context.Background())
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(true, "bogus")
	require.Error(t, err)
}

func TestStartSpanAndHelpers(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())
	ctx, span := StartSpan(context.Background(), "round")
	require.NotNil(t, ctx)
	SetOK(span)
	RecordError(span, errors.New("boom"))
	span.End()
}
