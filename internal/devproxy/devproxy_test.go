package devproxy

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maomaowang214/doc-chat/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoBackend answers with the name and the path it received.
func echoBackend(t *testing.T, name string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", name)
		w.Header().Set("X-Seen-Request-Id", r.Header.Get(requestIDHeader))
		fmt.Fprintf(w, "%s %s", name, r.URL.RequestURI())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	r, err := NewRouter(opts)
	require.NoError(t, err)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestMatchPrefix(t *testing.T) {
	tests := []struct {
		path, prefix string
		want         bool
	}{
		{"/api", "/api", true},
		{"/api/chat", "/api", true},
		{"/apikeys", "/api", false},
		{"/apikeys", "/api/", false},
		{"/api/x", "/api/", true},
		{"/files", "/api", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchPrefix(tt.path, tt.prefix), "%s vs %s", tt.path, tt.prefix)
	}
}

func TestProxyRouting(t *testing.T) {
	api := echoBackend(t, "api")
	files := echoBackend(t, "files")

	srv := newTestRouter(t, Options{Rules: []config.ProxyRule{
		{Prefix: "/api", Target: api.URL},
		{Prefix: "/api/files", Target: files.URL, StripPrefix: true},
	}})

	resp, body := get(t, srv.URL+"/api/chat/history?id=7")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "api /api/chat/history?id=7", body)

	resp, body = get(t, srv.URL+"/api/files/a.pdf")
	assert.Equal(t, "files", resp.Header.Get("X-Backend"), "longest prefix wins")
	assert.Equal(t, "files /a.pdf", body)

	_, body = get(t, srv.URL+"/api/files")
	assert.Equal(t, "files /", body)
}

func TestRequestID(t *testing.T) {
	api := echoBackend(t, "api")
	srv := newTestRouter(t, Options{Rules: []config.ProxyRule{{Prefix: "/api", Target: api.URL}}})

	resp, _ := get(t, srv.URL+"/api/x")
	id := resp.Header.Get(requestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, resp.Header.Get("X-Seen-Request-Id"))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/x", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "abc-123", resp2.Header.Get(requestIDHeader))
	assert.Equal(t, "abc-123", resp2.Header.Get("X-Seen-Request-Id"))
}

func TestNoRouteAndHealth(t *testing.T) {
	srv := newTestRouter(t, Options{})

	resp, body := get(t, srv.URL+"/nothing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "no proxy rule for /nothing")

	resp, body = get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, body)
}

func TestBadGateway(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	target := dead.URL
	dead.Close()

	srv := newTestRouter(t, Options{Rules: []config.ProxyRule{{Prefix: "/api", Target: target}}})
	resp, body := get(t, srv.URL+"/api/chat")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.JSONEq(t, `{"code":502,"message":"bad gateway"}`, body)
}

func TestInvalidTarget(t *testing.T) {
	_, err := NewRouter(Options{Rules: []config.ProxyRule{{Prefix: "/api", Target: "localhost"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid target")
}

func TestStreamsWithoutBuffering(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"content":"first"},"done":false}`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		fmt.Fprintln(w, `{"message":{"content":""},"done":true}`)
	}))
	defer backend.Close()
	defer close(release)

	srv := newTestRouter(t, Options{Rules: []config.ProxyRule{{Prefix: "/api", Target: backend.URL}}})

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(resp.Body).ReadString('\n')
		lines <- line
	}()
	select {
	case line := <-lines:
		assert.Contains(t, line, "first")
	case <-time.After(2 * time.Second):
		t.Fatal("first chunk was buffered by the proxy")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "docchat_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := newTestRouter(t, Options{Gatherer: reg, MetricsPath: "/internal/metrics"})
	resp, body := get(t, srv.URL+"/internal/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "docchat_test_total 1")
}
