package slack

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Middleware throttles slash commands per workspace member.
type Middleware struct {
	logger  zerolog.Logger
	limiter *CommandLimiter
}

// NewMiddleware throttles each member to maxCommands per window. A
// non-positive maxCommands disables throttling.
func NewMiddleware(logger zerolog.Logger, maxCommands int, window time.Duration) *Middleware {
	return &Middleware{
		logger:  logger.With().Str("component", "slack.middleware").Logger(),
		limiter: NewCommandLimiter(maxCommands, window),
	}
}

// Admit reports whether the command of userID in teamID may run. When it
// may not, wait is how long until the member has a command to spend again.
func (m *Middleware) Admit(teamID, userID string) (ok bool, wait time.Duration) {
	ok, wait = m.limiter.Allow(teamID + "/" + userID)
	if !ok {
		m.logger.Warn().Str("team", teamID).Str("user", userID).Dur("retry_after", wait).Msg("command throttled")
	}
	return ok, wait
}

// throttledText is the ack reply for a throttled command.
func throttledText(wait time.Duration) string {
	secs := int(wait.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("⏳ Too many commands, try again in %ds.", secs)
}

// CommandLimiter gives every member a token bucket refilling max tokens per
// window. Buckets idle for a full window are refilled, so they are pruned on
// the next sweep.
type CommandLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	window    time.Duration
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// NewCommandLimiter creates a limiter admitting max calls per window. A
// non-positive max disables limiting.
func NewCommandLimiter(max int, window time.Duration) *CommandLimiter {
	limit := rate.Inf
	if max > 0 && window > 0 {
		limit = rate.Every(window / time.Duration(max))
	}
	return &CommandLimiter{
		limit:   limit,
		burst:   max,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow takes a token for key. When none is available it returns how long
// until one is.
func (l *CommandLimiter) Allow(key string) (bool, time.Duration) {
	if l.burst <= 0 || l.limit == rate.Inf {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.window {
		l.sweep(now)
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastUse = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, l.window
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Len returns the number of tracked keys.
func (l *CommandLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *CommandLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastUse) >= l.window {
			delete(l.buckets, key)
		}
	}
}
