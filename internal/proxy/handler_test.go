package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuncerburak97/gozcu/internal/config"
)

func newApp(t *testing.T, cfg *config.ProxyConfig) *fiber.App {
	t.Helper()
	h, err := NewProxyHandler(cfg, nil)
	require.NoError(t, err)
	app := fiber.New()
	app.All("/*", h.Handle)
	return app
}

func TestProxyHandler_Forwards(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders/7?expand=items", r.URL.RequestURI())
		assert.Equal(t, `{"qty":2}`, string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Custom"))
		assert.Empty(t, r.Header.Get("Proxy-Authorization"))
		assert.Equal(t, "10.0.0.1, 0.0.0.0", r.Header.Get("X-Forwarded-For"))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer upstream.Close()

	app := newApp(t, &config.ProxyConfig{Target: upstream.URL + "/"})

	req := httptest.NewRequest(http.MethodPost, "/orders/7?expand=items", strings.NewReader(`{"qty":2}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Custom", "abc")
	req.Header.Set("Proxy-Authorization", "secret")
	req.Header.Set("X-Forwarded-For", "10.0.0.1")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"id":7}`, string(body))
	assert.Equal(t, []string{"a=1", "b=2"}, resp.Header.Values("Set-Cookie"))
}

func TestProxyHandler_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	app := newApp(t, &config.ProxyConfig{Target: target})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestProxyHandler_Timeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	app := newApp(t, &config.ProxyConfig{Target: upstream.URL, Timeout: 50 * time.Millisecond})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/slow", nil), 2000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestNewProxyHandler_InvalidTarget(t *testing.T) {
	_, err := NewProxyHandler(&config.ProxyConfig{Target: "not-a-url"}, nil)
	assert.Error(t, err)
}
