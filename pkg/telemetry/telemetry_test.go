package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracer_NoEndpointInstallsPropagator(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "test", "")
	require.NoError(t, err)
	defer shutdown()

	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestSampler(t *testing.T) {
	assert.Contains(t, Sampler().Description(), "AlwaysOnSampler")
	assert.Contains(t, Sampler(WithSampleRatio(0)).Description(), "AlwaysOnSampler")
	assert.Contains(t, Sampler(WithSampleRatio(0.25)).Description(), "TraceIDRatioBased{0.25}")
}

func TestStartMetricsServer_Readiness(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := errors.New("postgres down")
	StartMetricsServer(ctx, addr, slog.New(slog.NewTextHandler(io.Discard, nil)), func(context.Context) error {
		return ready
	})

	get := func(path string) int {
		resp, err := http.Get("http://" + addr + path)
		if err != nil {
			return 0
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	require.Eventually(t, func() bool { return get("/healthz") == http.StatusOK }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
	assert.Equal(t, http.StatusOK, get("/metrics"))
}
