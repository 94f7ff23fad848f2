package middleware

import (
    "math"
    "sync"
    "time"

    "github.com/labstack/echo/v4"
    "golang.org/x/time/rate"

    "github.com/iliyamo/leafguard/internal/config"
)

// LocalLimiter is the in-process fallback used when Redis is not configured.
// It keeps one token bucket per key and drops buckets idle for longer than
// the configured TTL.
type LocalLimiter struct {
    cfg   config.RateLimitConfig
    limit rate.Limit

    mu      sync.Mutex
    buckets map[string]*localBucket

    stop     chan struct{}
    stopOnce sync.Once
}

type localBucket struct {
    lim      *rate.Limiter
    lastSeen time.Time
}

// NewLocalLimiter starts the cleanup loop; call Stop on shutdown.
func NewLocalLimiter(cfg config.RateLimitConfig) *LocalLimiter {
    l := &LocalLimiter{
        cfg:     cfg,
        limit:   rate.Every(cfg.RefillInterval / time.Duration(cfg.RefillTokens)),
        buckets: make(map[string]*localBucket),
        stop:    make(chan struct{}),
    }
    go l.cleanup()
    return l
}

func (l *LocalLimiter) bucket(key string, now time.Time) *rate.Limiter {
    l.mu.Lock()
    defer l.mu.Unlock()
    b, ok := l.buckets[key]
    if !ok {
        b = &localBucket{lim: rate.NewLimiter(l.limit, l.cfg.Capacity)}
        l.buckets[key] = b
    }
    b.lastSeen = now
    return b.lim
}

func (l *LocalLimiter) cleanup() {
    t := time.NewTicker(l.cfg.TTL)
    defer t.Stop()
    for {
        select {
        case <-l.stop:
            return
        case now := <-t.C:
            l.mu.Lock()
            for k, b := range l.buckets {
                if now.Sub(b.lastSeen) > l.cfg.TTL {
                    delete(l.buckets, k)
                }
            }
            l.mu.Unlock()
        }
    }
}

// Stop ends the cleanup loop.  Safe to call more than once.
func (l *LocalLimiter) Stop() {
    l.stopOnce.Do(func() { close(l.stop) })
}

// Middleware enforces the per-key limit.
func (l *LocalLimiter) Middleware() echo.MiddlewareFunc {
    if !l.cfg.Enabled {
        return passThrough
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            now := time.Now()
            lim := l.bucket(buildRateKey(l.cfg, c), now)

            r := lim.ReserveN(now, 1)
            if delay := r.DelayFrom(now); delay > 0 {
                r.CancelAt(now)
                return tooManyRequests(c, l.cfg.Capacity, int(math.Ceil(delay.Seconds())))
            }
            setRateHeaders(c, l.cfg.Capacity, int64(lim.TokensAt(now)))
            return next(c)
        }
    }
}
