package ratelimit

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dharsanguruparan/qrdrop/internal/config"
)

// Operation is a category with its own threshold.
type Operation string

const (
	OpCreate   Operation = "create"
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
	OpRedirect Operation = "redirect"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter applies per-operation rules to a Store.
type Limiter struct {
	store Store
	rules map[Operation]config.RateRule
	now   func() time.Time
}

// New builds a Limiter. Operations without a rule are never limited.
func New(store Store, rules map[Operation]config.RateRule) *Limiter {
	return &Limiter{store: store, rules: rules, now: time.Now}
}

// FromConfig builds the rule set from cfg.
func FromConfig(store Store, cfg *config.Config) *Limiter {
	return New(store, map[Operation]config.RateRule{
		OpCreate:   cfg.CreateRate,
		OpUpload:   cfg.UploadRate,
		OpDownload: cfg.DownloadRate,
		OpRedirect: cfg.RedirectRate,
	})
}

// Allow records a request from client for op if it fits in the window.
// Rejected requests are not recorded, so hammering does not extend the
// penalty. Store failures fail open and are logged.
func (l *Limiter) Allow(ctx context.Context, op Operation, client string) Decision {
	rule, ok := l.rules[op]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}
	}
	key := string(op) + ":" + client
	now := l.now()
	w, err := l.store.Get(ctx, key, now, rule.Window)
	if err != nil {
		log.Printf("rate limit read failed for %s: %v", op, err)
		return Decision{Allowed: true}
	}
	if w.Count >= rule.Limit {
		return Decision{RetryAfter: retryAfter(w, rule, now)}
	}
	w, err = l.store.Increment(ctx, key, now, rule.Window)
	if err != nil {
		log.Printf("rate limit write failed for %s: %v", op, err)
		return Decision{Allowed: true}
	}
	if w.Count > rule.Limit {
		return Decision{RetryAfter: retryAfter(w, rule, now)}
	}
	return Decision{Allowed: true}
}

// Expire prunes state older than the longest window.
func (l *Limiter) Expire(ctx context.Context) error {
	var longest time.Duration
	for _, r := range l.rules {
		if r.Window > longest {
			longest = r.Window
		}
	}
	return l.store.Expire(ctx, l.now().Add(-longest))
}

func retryAfter(w Window, rule config.RateRule, now time.Time) time.Duration {
	wait := rule.Window
	if !w.Oldest.IsZero() {
		wait = w.Oldest.Add(rule.Window).Sub(now)
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header in whole seconds.
func (l *Limiter) Middleware(op Operation, trustProxy bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := l.Allow(r.Context(), op, ClientIP(r, trustProxy))
		if !d.Allowed {
			secs := int((d.RetryAfter + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP identifies the caller. X-Forwarded-For is honoured only behind a
// trusted proxy, since clients can set it freely otherwise.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
