package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/satchel/internal/config"
)

func TestServerExposesCollectors(t *testing.T) {
	SessionStatusTotal.WithLabelValues("session_started").Inc()

	s := NewServer(config.MetricsConfig{Listen: "127.0.0.1:0"})
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `satchel_session_status_total{kind="session_started"}`)
}

func TestServerBindFailure(t *testing.T) {
	first := NewServer(config.MetricsConfig{Listen: "127.0.0.1:0"})
	require.NoError(t, first.Start())
	defer first.Stop(context.Background())

	second := NewServer(config.MetricsConfig{Listen: first.Addr()})
	assert.Error(t, second.Start())
	assert.NoError(t, second.Stop(context.Background()))
}
