package httpserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caption-bot/api/internal/metrics"
)

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ok := New("caption-bot", func(context.Context) error { return nil })
	w := get(ok, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	down := New("caption-bot", func(context.Context) error { return errors.New("connection refused") })
	w = get(down, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = get(New("caption-bot", nil), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsAndRoot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.Register()
	metrics.StaleDiscardsTotal.Inc()

	r := New("caption-bot", nil)
	w := get(r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "caption_workflow_stale_discards_total")

	w = get(r, "/")
	assert.Equal(t, "caption-bot", w.Body.String())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + ln.Addr().String() + "/"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, New("caption-bot", nil)) }()

	resp, err := http.Get(url)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "caption-bot", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = http.Get(url)
	assert.Error(t, err)
}
