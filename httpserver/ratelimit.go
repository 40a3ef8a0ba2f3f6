package httpserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SenderLimiter applies a token bucket per sender and periodically evicts
// idle senders.
type SenderLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu       sync.Mutex
	bySender map[string]*limiterEntry
	hits     uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSenderLimiter creates a limiter allowing rps messages per second per
// sender with the given burst. It returns nil, which allows everything,
// when rps or burst is not positive.
func NewSenderLimiter(rps float64, burst int, idleTTL time.Duration) *SenderLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &SenderLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
		bySender: make(map[string]*limiterEntry),
	}
}

// Allow reports whether sender may submit one message at now.
func (l *SenderLimiter) Allow(sender string, now time.Time) bool {
	if l == nil || sender == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.bySender[sender]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.bySender[sender] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.bySender {
			if v.lastSeen.Before(cutoff) {
				delete(l.bySender, k)
			}
		}
	}

	return allowed
}

// Len returns the number of tracked senders.
func (l *SenderLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bySender)
}
