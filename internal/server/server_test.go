package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"redx-pair/internal/linker"
)

type stubLinker struct {
	mu      sync.Mutex
	code    string
	png     []byte
	err     error
	phones  []string
	qrCalls int
}

func (l *stubLinker) Pair(ctx context.Context, phone string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phones = append(l.phones, phone)
	return l.code, l.err
}

func (l *stubLinker) QR(ctx context.Context) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.qrCalls++
	return l.png, l.err
}

func (l *stubLinker) Active() int { return 2 }

func setupServer(l *stubLinker, ready bool) *Server {
	gin.SetMode(gin.TestMode)
	srv := New(l, zap.NewNop(), "test")
	srv.SetReady(ready)
	return srv
}

func do(srv *Server, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	w := do(setupServer(&stubLinker{}, false), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestPairValidation(t *testing.T) {
	l := &stubLinker{code: "ABCD-1234"}
	srv := setupServer(l, true)

	w := do(srv, http.MethodGet, "/pair", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Phone number required", decodeError(t, w))

	for _, number := range []string{"12345", "abcdefghijkl", "%2B1-555-12"} {
		w = do(srv, http.MethodGet, "/pair?number="+number, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, number)
		assert.Equal(t, "Invalid number", decodeError(t, w))
	}
	assert.Empty(t, l.phones)
}

func TestPairSuccess(t *testing.T) {
	l := &stubLinker{code: "ABCD-1234"}
	w := do(setupServer(l, true), http.MethodGet, "/pair?number=%2B92+300+1234567", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ABCD-1234", body["code"])
	assert.Equal(t, []string{"+92 300 1234567"}, l.phones)
}

func TestPairFailure(t *testing.T) {
	w := do(setupServer(&stubLinker{err: errors.New("boom")}, true), http.MethodGet, "/pair?number=923001234567", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to get code", decodeError(t, w))
}

func TestPairSetupFailure(t *testing.T) {
	l := &stubLinker{err: fmt.Errorf("%w: failed to connect: dial tcp: i/o timeout", linker.ErrSetup)}
	w := do(setupServer(l, true), http.MethodGet, "/pair?number=923001234567", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Service unavailable", decodeError(t, w))
}

func TestUnavailable(t *testing.T) {
	w := do(setupServer(&stubLinker{}, false), http.MethodGet, "/pair?number=923001234567", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(setupServer(&stubLinker{}, false), http.MethodGet, "/qr", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	for _, err := range []error{linker.ErrBusy, linker.ErrClosed} {
		w = do(setupServer(&stubLinker{err: err}, true), http.MethodGet, "/pair?number=923001234567", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		w = do(setupServer(&stubLinker{err: err}, true), http.MethodGet, "/qr", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	}
}

func TestQR(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake")
	l := &stubLinker{png: png}
	w := do(setupServer(l, true), http.MethodGet, "/qr", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, png, w.Body.Bytes())
	assert.Equal(t, 1, l.qrCalls)

	w = do(setupServer(&stubLinker{err: errors.New("boom")}, true), http.MethodGet, "/qr", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestOptionsPreflight(t *testing.T) {
	srv := setupServer(&stubLinker{}, true)

	w := do(srv, http.MethodOptions, "/pair", map[string]string{
		"Origin":                        "https://example.com",
		"Access-Control-Request-Method": "GET",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(srv, http.MethodOptions, "/pair", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(srv, http.MethodOptions, "/anything", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMethodNotAllowed(t *testing.T) {
	w := do(setupServer(&stubLinker{}, true), http.MethodPost, "/pair", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestUnknownPath(t *testing.T) {
	srv := setupServer(&stubLinker{}, true)
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		w := do(srv, method, "/does-not-exist", nil)
		assert.Equal(t, http.StatusNotFound, w.Code, method)
		assert.Equal(t, "Not found", decodeError(t, w), method)
	}
}

func TestStatus(t *testing.T) {
	w := do(setupServer(&stubLinker{}, true), http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, float64(2), body["active_sessions"])
	assert.Equal(t, "test", body["version"])
}

func TestShutdownClearsReady(t *testing.T) {
	srv := setupServer(&stubLinker{}, true)
	require.NoError(t, srv.Shutdown(context.Background()))
	assert.False(t, srv.Ready())
}

func TestShutdownWhileServing(t *testing.T) {
	srv := setupServer(&stubLinker{}, true)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Shutdown(context.Background()))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestServeAfterShutdown(t *testing.T) {
	srv := setupServer(&stubLinker{}, true)
	require.NoError(t, srv.Shutdown(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	assert.NoError(t, srv.Serve(ln))
}

func TestIndexAndMetrics(t *testing.T) {
	srv := setupServer(&stubLinker{}, true)

	w := do(srv, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/pair?number=")

	w = do(srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
