package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/binary"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/leafguard/internal/config"
    "github.com/iliyamo/leafguard/internal/logging"
)

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
    http.ResponseWriter
    status int
    buf    bytes.Buffer
    size   int64
    limit  int64
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }
func (cw *captureWriter) Write(b []byte) (int, error) {
    if cw.limit <= 0 {
        cw.buf.Write(b)
    } else if remain := cw.limit - cw.size; remain > 0 {
        if int64(len(b)) <= remain {
            cw.buf.Write(b)
        } else {
            cw.buf.Write(b[:remain])
        }
    }
    cw.size += int64(len(b))
    return cw.ResponseWriter.Write(b)
}

// HistoryCache caches GET responses per user.  Every user has a generation
// counter that is part of each key; Invalidate bumps it so older pages are
// never served again and simply expire.
type HistoryCache struct {
    cfg config.CacheConfig
    rdb *redis.Client
}

// NewHistoryCache returns a cache that is a no-op when disabled or rdb is nil.
func NewHistoryCache(cfg config.CacheConfig, rdb *redis.Client) *HistoryCache {
    if cfg.TTL <= 0 {
        cfg.TTL = time.Minute
    }
    return &HistoryCache{cfg: cfg, rdb: rdb}
}

func (h *HistoryCache) enabled() bool { return h != nil && h.cfg.Enabled && h.rdb != nil }

func (h *HistoryCache) genKey(userID string) string {
    return h.cfg.Prefix + ":gen:" + userID
}

// pageKey builds prefix:history:<user>:<gen>:<sha1(route?query)>.
func (h *HistoryCache) pageKey(ctx context.Context, c echo.Context, userID string) (string, error) {
    gen, err := h.rdb.Get(ctx, h.genKey(userID)).Int64()
    if err != nil && err != redis.Nil {
        return "", err
    }
    sum := sha1.Sum([]byte(c.Path() + "?" + c.Request().URL.RawQuery))
    return fmt.Sprintf("%s:history:%s:%d:%x", h.cfg.Prefix, userID, gen, sum[:]), nil
}

// Invalidate makes every cached page of userID stale.
func (h *HistoryCache) Invalidate(ctx context.Context, userID string) error {
    if !h.enabled() {
        return nil
    }
    return h.rdb.Incr(ctx, h.genKey(userID)).Err()
}

// Middleware serves cached 200 responses and stores fresh ones.  It must run
// after JWTAuth so the user is known.  Redis failures fall through to the handler.
func (h *HistoryCache) Middleware() echo.MiddlewareFunc {
    if !h.enabled() {
        return passThrough
    }
    log := logging.With("cache")
    maxBody := int64(h.cfg.MaxBodyBytes)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            userID := UserID(c)
            if c.Request().Method != http.MethodGet || userID == "" {
                return next(c)
            }

            ctx := c.Request().Context()
            key, err := h.pageKey(ctx, c, userID)
            if err != nil {
                log.Warn().Err(err).Msg("cache lookup failed")
                return next(c)
            }

            if bs, err := h.rdb.Get(ctx, key).Bytes(); err == nil {
                if status, hdr, body, ok := decodePayload(bs); ok {
                    for k, vals := range hdr {
                        if transportHeader(k) {
                            continue
                        }
                        for _, v := range vals {
                            c.Response().Header().Add(k, v)
                        }
                    }
                    c.Response().Header().Set("X-Cache", "HIT")
                    c.Response().WriteHeader(status)
                    _, _ = c.Response().Write(body)
                    return nil
                }
            }

            // Miss: capture
            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }
            if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
                return nil
            }

            hdr := c.Response().Header().Clone()
            for k := range hdr {
                if transportHeader(k) || strings.EqualFold(k, "X-Cache") {
                    delete(hdr, k)
                }
            }
            payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
            if err != nil {
                return nil
            }
            if err := h.rdb.Set(context.WithoutCancel(ctx), key, payload, h.cfg.TTL).Err(); err != nil {
                log.Warn().Err(err).Msg("cache store failed")
            }
            return nil
        }
    }
}

// transportHeader reports headers owned by outer middleware (compression)
// or recomputed per response; they are never replayed from the cache.
func transportHeader(k string) bool {
    switch http.CanonicalHeaderKey(k) {
    case "Content-Length", "Content-Encoding", "Vary", "X-Request-Id", "X-Ratelimit-Limit", "X-Ratelimit-Remaining":
        return true
    }
    return false
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
    hdrJSON, err := json.Marshal(header)
    if err != nil {
        return nil, err
    }
    out := make([]byte, 8+len(hdrJSON)+len(body))
    binary.BigEndian.PutUint32(out[0:4], uint32(status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
    copy(out[8:8+len(hdrJSON)], hdrJSON)
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
