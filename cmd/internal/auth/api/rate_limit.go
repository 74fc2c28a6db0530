package authapi

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// lockoutTier locks a key for Duration after its latest failure once it has
// at least Threshold failures.
type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

const (
	maxFailuresPerKey = 64
	maxThrottleKeys   = 100_000
)

// loginThrottle is an in-process sliding-window failure tracker. Keys are
// "ip:<addr>" or "user:<username_norm>".
type loginThrottle struct {
	mu       sync.Mutex
	failures map[string][]time.Time

	ipMax         int
	ipWindow      time.Duration
	lockoutWindow time.Duration
	tiers         []lockoutTier
}

func newLoginThrottle(cfg Config) *loginThrottle {
	return &loginThrottle{
		failures:      make(map[string][]time.Time),
		ipMax:         cfg.LoginIPMax,
		ipWindow:      cfg.LoginIPWindow,
		lockoutWindow: cfg.LockoutWindow,
		tiers:         cfg.lockoutTiers(),
	}
}

func ipKey(ip string) string     { return "ip:" + ip }
func userKey(norm string) string { return "user:" + norm }

// checkIP reports whether an address has exhausted its failure budget.
func (t *loginThrottle) checkIP(now time.Time, ip string) (bool, time.Duration) {
	if ip == "" || t.ipMax <= 0 {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return evaluateWindowThrottle(now, t.failures[ipKey(ip)], t.ipMax, t.ipWindow)
}

// checkUser applies progressive lockout to a normalized username.
func (t *loginThrottle) checkUser(now time.Time, norm string) (bool, time.Duration) {
	if norm == "" {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cut := now.Add(-t.lockoutWindow)
	recent := make([]time.Time, 0, len(t.failures[userKey(norm)]))
	for _, f := range t.failures[userKey(norm)] {
		if f.After(cut) {
			recent = append(recent, f)
		}
	}
	return evaluateProgressiveLockout(now, recent, t.tiers)
}

func (t *loginThrottle) recordFailure(now time.Time, ip, norm string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.failures) >= maxThrottleKeys {
		t.sweepLocked(now)
	}
	if ip != "" {
		t.appendLocked(now, ipKey(ip))
	}
	if norm != "" {
		t.appendLocked(now, userKey(norm))
	}
}

// resetUser forgets username failures after a successful login. Address
// failures stay: one good password must not unlock a spraying client.
func (t *loginThrottle) resetUser(norm string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, userKey(norm))
}

func (t *loginThrottle) retention() time.Duration {
	if t.ipWindow > t.lockoutWindow {
		return t.ipWindow
	}
	return t.lockoutWindow
}

func (t *loginThrottle) appendLocked(now time.Time, key string) {
	cut := now.Add(-t.retention())
	events := t.failures[key]
	dst := events[:0]
	for _, e := range events {
		if e.After(cut) {
			dst = append(dst, e)
		}
	}
	dst = append(dst, now)
	if len(dst) > maxFailuresPerKey {
		dst = dst[len(dst)-maxFailuresPerKey:]
	}
	t.failures[key] = dst
}

func (t *loginThrottle) sweepLocked(now time.Time) {
	cut := now.Add(-t.retention())
	for key, events := range t.failures {
		if len(events) == 0 || !events[len(events)-1].After(cut) {
			delete(t.failures, key)
		}
	}
}

// evaluateWindowThrottle blocks once max failures fall inside window. The
// returned duration is how long until enough of them age out.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	in := make([]time.Time, 0, len(failures))
	for _, f := range failures {
		if f.After(cut) && !f.After(now) {
			in = append(in, f)
		}
	}
	if len(in) < max {
		return false, 0
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Before(in[j]) })
	return true, in[len(in)-max].Add(window).Sub(now)
}

// evaluateProgressiveLockout picks the highest tier whose threshold is met
// and whose lock, counted from the latest failure, is still running.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, f := range failures[1:] {
		if f.After(latest) {
			latest = f
		}
	}

	ordered := append([]lockoutTier(nil), tiers...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Threshold > ordered[j].Threshold })

	for _, tier := range ordered {
		if tier.Threshold <= 0 || tier.Duration <= 0 || len(failures) < tier.Threshold {
			continue
		}
		until := latest.Add(tier.Duration)
		if until.After(now) {
			return true, until.Sub(now)
		}
	}
	return false, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
