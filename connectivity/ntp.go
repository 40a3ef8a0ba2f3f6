package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// DefaultNTPTimeout bounds a single server query.
const DefaultNTPTimeout = 3 * time.Second

// DefaultNTPServers are queried in order until one answers.
var DefaultNTPServers = []string{
	"time.apple.com",
	"ntp.aliyun.com",
	"time.windows.com",
	"1.1.1.1",
	"time-nw.nist.gov",
}

// ErrTimeSyncFailed is returned when no NTP server produced a usable answer.
var ErrTimeSyncFailed = errors.New("time sync failed on all servers")

// Querier performs one NTP query. ntp.QueryWithOptions satisfies it.
type Querier func(host string, opts ntp.QueryOptions) (*ntp.Response, error)

// TimeSync is a clock corrected by the offset measured at the last
// successful NTP sync. Before the first sync it reads the local clock.
type TimeSync struct {
	servers []string
	timeout time.Duration
	log     *slog.Logger

	// Query performs the NTP queries.
	Query Querier

	mu       sync.RWMutex
	offset   time.Duration
	syncedAt time.Time
}

// NewTimeSync creates a time source over servers; nil servers selects the defaults.
func NewTimeSync(servers []string, log *slog.Logger) *TimeSync {
	if len(servers) == 0 {
		servers = DefaultNTPServers
	}
	return &TimeSync{
		servers: servers,
		timeout: DefaultNTPTimeout,
		Query:   ntp.QueryWithOptions,
		log:     log,
	}
}

// Sync queries the servers in order and adopts the first valid offset.
func (t *TimeSync) Sync(ctx context.Context) error {
	for _, server := range t.servers {
		if err := ctx.Err(); err != nil {
			return err
		}

		t.log.Debug("Trying to sync time", slog.String("server", server))
		resp, err := t.Query(server, ntp.QueryOptions{Timeout: t.timeout})
		if err == nil {
			err = resp.Validate()
		}
		if err != nil {
			t.log.Warn("Failed to sync time", slog.String("server", server), "err", err)
			continue
		}

		t.mu.Lock()
		t.offset = resp.ClockOffset
		t.syncedAt = time.Now()
		t.mu.Unlock()

		t.log.Info("Time synced",
			slog.String("server", server),
			slog.Duration("offset", resp.ClockOffset))
		return nil
	}
	return fmt.Errorf("%w: tried %d servers", ErrTimeSyncFailed, len(t.servers))
}

// Now returns the corrected time.
func (t *TimeSync) Now() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return time.Now().Add(t.offset)
}

// Offset returns the current correction and whether any sync has succeeded.
func (t *TimeSync) Offset() (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.offset, !t.syncedAt.IsZero()
}
