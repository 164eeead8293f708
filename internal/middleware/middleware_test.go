package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hkpo/mobilepost-directory/internal/apperr"
	"github.com/hkpo/mobilepost-directory/internal/config"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// envelopeErrors renders *apperr.Error the way the real error handler does.
func envelopeErrors(err error, c echo.Context) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		_ = c.JSON(ae.Status(), map[string]any{"success": false, "errcode": string(ae.Code), "errmsg": ae.ClientMessage()})
		return
	}
	echo.New().DefaultHTTPErrorHandler(err, c)
}

func serve(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestResponseCache(t *testing.T) {
	mr, rdb := newRedis(t)
	cache := NewResponseCache(config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "t:cache", MaxBodyBytes: 1 << 16}, rdb, zap.NewNop())
	require.NotNil(t, cache)

	hits := 0
	e := echo.New()
	e.Use(cache.Middleware())
	e.GET("/mobilepost/:id", func(c echo.Context) error {
		hits++
		return c.JSON(http.StatusOK, map[string]any{"success": true, "hits": hits})
	})
	e.GET("/missing", func(c echo.Context) error {
		hits++
		return c.JSON(http.StatusNotFound, map[string]any{"success": false})
	})
	e.PUT("/mobilepost/:id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.DELETE("/mobilepost/:id", func(c echo.Context) error { return echo.ErrBadRequest })

	first := serve(e, http.MethodGet, "/mobilepost/1?x=1")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := serve(e, http.MethodGet, "/mobilepost/1?x=1")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, first.Header().Get(echo.HeaderContentType), second.Header().Get(echo.HeaderContentType))
	assert.Equal(t, 1, hits)

	// different params and queries are different entries
	assert.Equal(t, "MISS", serve(e, http.MethodGet, "/mobilepost/2?x=1").Header().Get("X-Cache"))
	assert.Equal(t, "MISS", serve(e, http.MethodGet, "/mobilepost/1?x=2").Header().Get("X-Cache"))
	assert.Equal(t, 3, hits)

	// non-200 responses are not stored
	serve(e, http.MethodGet, "/missing")
	serve(e, http.MethodGet, "/missing")
	assert.Equal(t, 5, hits)

	// a failed write leaves the generation alone
	serve(e, http.MethodDelete, "/mobilepost/1")
	assert.False(t, mr.Exists("t:cache:gen"))
	assert.Equal(t, "HIT", serve(e, http.MethodGet, "/mobilepost/1?x=1").Header().Get("X-Cache"))

	// a successful write invalidates
	serve(e, http.MethodPut, "/mobilepost/1")
	gen, err := mr.Get("t:cache:gen")
	require.NoError(t, err)
	assert.Equal(t, "1", gen)
	assert.Equal(t, "MISS", serve(e, http.MethodGet, "/mobilepost/1?x=1").Header().Get("X-Cache"))
	assert.Equal(t, 6, hits)
}

func TestResponseCacheDisabled(t *testing.T) {
	_, rdb := newRedis(t)
	assert.Nil(t, NewResponseCache(config.CacheConfig{Enabled: false}, rdb, zap.NewNop()))
	assert.Nil(t, NewResponseCache(config.CacheConfig{Enabled: true}, nil, zap.NewNop()))

	var cache *ResponseCache
	e := echo.New()
	e.Use(cache.Middleware())
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	rec := serve(e, http.MethodGet, "/x")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
	assert.NoError(t, cache.Invalidate(context.Background()))
}

func TestResponseCacheRedisDown(t *testing.T) {
	mr, rdb := newRedis(t)
	cache := NewResponseCache(config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "c"}, rdb, zap.NewNop())
	e := echo.New()
	e.Use(cache.Middleware())
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	mr.Close()
	rec := serve(e, http.MethodGet, "/x")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(201, hdr, []byte(`{"a":1}`))
	require.NoError(t, err)
	status, gotHdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, 201, status)
	assert.Equal(t, hdr, gotHdr)
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload([]byte{1, 2})
	assert.False(t, ok)
}

func TestRateLimit(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour, TTL: 5 * time.Hour, Prefix: "t:rl"}

	e := echo.New()
	e.HTTPErrorHandler = envelopeErrors
	e.Use(RateLimit(cfg, rdb, zap.NewNop()))
	e.GET("/mobilepost", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/mobilepost/:id", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	for i := 0; i < 2; i++ {
		rec := serve(e, http.MethodGet, "/mobilepost")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := serve(e, http.MethodGet, "/mobilepost")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"errcode":"0401"`)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// buckets are per route
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/mobilepost/3").Code)
}

func TestRateLimitPassThrough(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Hour, TTL: 5 * time.Hour, Prefix: "t:rl"}

	e := echo.New()
	e.Use(RateLimit(cfg, rdb, zap.NewNop()))
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	mr.Close()
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x").Code)
	}

	disabled := echo.New()
	disabled.Use(RateLimit(config.RateLimitConfig{Enabled: false}, nil, zap.NewNop()))
	disabled.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	assert.Equal(t, http.StatusOK, serve(disabled, http.MethodGet, "/x").Code)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := echo.New()
	e.HTTPErrorHandler = envelopeErrors
	e.Use(RequestLogger(zap.New(core)))
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/fail", func(c echo.Context) error { return apperr.New(apperr.NotFound) })

	serve(e, http.MethodGet, "/ok")
	rec := serve(e, http.MethodGet, "/fail")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "0301")

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, int64(200), entries[0].ContextMap()["status"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "/fail", entries[1].ContextMap()["route"])
}
