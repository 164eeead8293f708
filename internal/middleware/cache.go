package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hkpo/mobilepost-directory/internal/config"
	"github.com/hkpo/mobilepost-directory/internal/metrics"
)

// captureWriter copies the response body, up to limit bytes, while
// forwarding it to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 || cw.size+int64(len(b)) <= cw.limit {
		cw.buf.Write(b)
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// truncated reports whether the body outgrew the capture limit.
func (cw *captureWriter) truncated() bool {
	return cw.limit > 0 && cw.size > cw.limit
}

// ResponseCache caches GET responses in Redis. Every stored key embeds
// the current generation; a successful POST, PUT or DELETE bumps the
// generation so later reads never see a pre-write response.
type ResponseCache struct {
	cfg config.CacheConfig
	rdb *redis.Client
	log *zap.Logger
}

// NewResponseCache returns nil when caching is disabled or Redis is not
// configured. A nil *ResponseCache is a valid pass-through.
func NewResponseCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.Logger) *ResponseCache {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "cache"
	}
	return &ResponseCache{cfg: cfg, rdb: rdb, log: log.Named("cache")}
}

func (rc *ResponseCache) genKey() string { return rc.cfg.Prefix + ":gen" }

func (rc *ResponseCache) generation(ctx context.Context) (string, error) {
	gen, err := rc.rdb.Get(ctx, rc.genKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

// Invalidate makes every stored response unreachable.
func (rc *ResponseCache) Invalidate(ctx context.Context) error {
	if rc == nil {
		return nil
	}
	if err := rc.rdb.Incr(ctx, rc.genKey()).Err(); err != nil {
		return err
	}
	metrics.CacheInvalidations.Inc()
	return nil
}

// key hashes the route pattern, its parameters and the raw query.
func (rc *ResponseCache) key(gen string, c echo.Context) string {
	parts := []string{"route", c.Path()}
	for _, name := range c.ParamNames() {
		parts = append(parts, name, c.Param(name))
	}
	parts = append(parts, "q", c.Request().URL.RawQuery)
	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s:%s:%x", rc.cfg.Prefix, gen, sum[:])
}

// encodePayload packs [4 bytes status][4 bytes header length][header JSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}

// skipHeaders are not replayed from the cache. CORS headers and Vary are
// set per request by the CORS middleware before the cache runs.
var skipHeaders = map[string]bool{
	"Content-Length":                   true,
	"X-Request-Id":                     true,
	"X-Cache":                          true,
	"X-Ratelimit-Limit":                true,
	"X-Ratelimit-Remaining":            true,
	"Access-Control-Allow-Origin":      true,
	"Access-Control-Allow-Credentials": true,
	"Access-Control-Expose-Headers":    true,
	"Vary":                             true,
}

// Middleware serves cached GET responses and invalidates after writes.
func (rc *ResponseCache) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if rc == nil {
			return next
		}
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodGet:
				return rc.serve(c, next)
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
				if err := next(c); err != nil {
					return err
				}
				if s := c.Response().Status; s >= 200 && s < 300 {
					if err := rc.Invalidate(c.Request().Context()); err != nil {
						rc.log.Warn("invalidate failed", zap.Error(err))
					}
				}
				return nil
			}
			return next(c)
		}
	}
}

func (rc *ResponseCache) serve(c echo.Context, next echo.HandlerFunc) error {
	ctx := c.Request().Context()
	gen, err := rc.generation(ctx)
	if err != nil {
		metrics.RecordCacheResult("error")
		rc.log.Debug("generation lookup failed, bypassing cache", zap.Error(err))
		return next(c)
	}
	key := rc.key(gen, c)

	if bs, err := rc.rdb.Get(ctx, key).Bytes(); err == nil {
		if status, hdr, body, ok := decodePayload(bs); ok {
			metrics.RecordCacheResult("hit")
			h := c.Response().Header()
			for k, vals := range hdr {
				if skipHeaders[http.CanonicalHeaderKey(k)] {
					continue
				}
				h.Del(k)
				for _, v := range vals {
					h.Add(k, v)
				}
			}
			c.Response().Header().Set("X-Cache", "HIT")
			c.Response().Header().Set(echo.HeaderContentLength, strconv.Itoa(len(body)))
			c.Response().WriteHeader(status)
			_, err := c.Response().Write(body)
			return err
		}
	} else if !errors.Is(err, redis.Nil) {
		metrics.RecordCacheResult("error")
		rc.log.Debug("cache read failed", zap.Error(err))
	}

	metrics.RecordCacheResult("miss")
	cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: int64(rc.cfg.MaxBodyBytes)}
	c.Response().Writer = cw
	c.Response().Header().Set("X-Cache", "MISS")

	if err := next(c); err != nil {
		return err
	}
	if cw.status != http.StatusOK || cw.truncated() {
		return nil
	}

	hdr := c.Response().Header().Clone()
	for k := range hdr {
		if skipHeaders[k] {
			delete(hdr, k)
		}
	}
	payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
	if err != nil {
		return nil
	}
	// the request context may already be cancelled once the client has its answer
	if err := rc.rdb.Set(context.WithoutCancel(ctx), key, payload, rc.cfg.TTL).Err(); err != nil {
		rc.log.Debug("cache write failed", zap.Error(err))
	}
	return nil
}
