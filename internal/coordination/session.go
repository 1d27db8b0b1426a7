package coordination

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a backend keeps a lock alive without a heartbeat.
const DefaultSessionTTL = 15 * time.Second

// NewOwner returns a unique lock owner token for this process.
func NewOwner(hostname string) string {
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return hostname + "/" + uuid.NewString()
}

// SessionOptions configures a heartbeating lease.
type SessionOptions struct {
	Name  string
	Owner string
	// TTL is the backend's session timeout. Heartbeats run every TTL/3.
	TTL time.Duration
	// AcquiredAt is when the acquiring request was sent. The backend's
	// expiry is counted from no earlier than this. Zero means now.
	AcquiredAt time.Time
	// Heartbeat extends the lock. Returning ErrLeaseLost ends the session
	// immediately; other errors end it once TTL passed without a success.
	Heartbeat func(ctx context.Context) error
	// Release deletes the lock if this owner still holds it.
	Release func(ctx context.Context) error
	Logger  *slog.Logger
}

// Session is a Lease kept alive by a background heartbeat.
type Session struct {
	opts   SessionOptions
	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   chan struct{}
	expiry *time.Timer
	wg     sync.WaitGroup
	once   sync.Once
	err    error
	logger *slog.Logger
}

var _ Lease = (*Session)(nil)

// StartSession returns a running session for a lock that was just acquired.
func StartSession(opts SessionOptions) *Session {
	if opts.TTL <= 0 {
		opts.TTL = DefaultSessionTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Session{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
		logger: logger.With("component", "coordination-session", "lock", opts.Name),
	}
	if opts.Heartbeat != nil {
		acquired := opts.AcquiredAt
		if acquired.IsZero() {
			acquired = time.Now()
		}
		s.expiry = time.AfterFunc(s.untilExpiry(acquired), s.expire)
		s.wg.Add(1)
		go s.heartbeatLoop()
	}
	return s
}

// expiryMargin is how much earlier than the backend the session gives up.
func expiryMargin(ttl time.Duration) time.Duration {
	return ttl / 10
}

// untilExpiry is the time left before a lock last extended by a request
// sent at sent may have expired on the backend.
func (s *Session) untilExpiry(sent time.Time) time.Duration {
	return time.Until(sent.Add(s.opts.TTL - expiryMargin(s.opts.TTL)))
}

func (s *Session) expire() {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Warn("lock session expired", "owner", s.opts.Owner)
	s.cancel(ErrLeaseLost)
}

func (s *Session) Name() string             { return s.opts.Name }
func (s *Session) Owner() string            { return s.opts.Owner }
func (s *Session) Context() context.Context { return s.ctx }

// Lose ends the session as if the backend had expired it.
func (s *Session) Lose() {
	s.cancel(ErrLeaseLost)
}

// Release stops heartbeating and deletes the lock.
func (s *Session) Release(ctx context.Context) error {
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		if s.expiry != nil {
			s.expiry.Stop()
		}
		lost := context.Cause(s.ctx) != nil
		s.cancel(ErrLeaseReleased)
		if lost || s.opts.Release == nil {
			return
		}
		if err := s.opts.Release(ctx); err != nil {
			s.err = Wrap("release", s.opts.Name, err)
		}
	})
	return s.err
}

func (s *Session) heartbeatLoop() {
	defer s.wg.Done()

	interval := s.opts.TTL / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		// The backend counts the extension from when it receives the
		// request, which is no earlier than now.
		sent := time.Now()
		ctx, cancel := context.WithTimeout(s.ctx, interval)
		err := s.opts.Heartbeat(ctx)
		cancel()

		switch {
		case err == nil:
			if s.ctx.Err() == nil {
				s.expiry.Reset(s.untilExpiry(sent))
			}
		case errors.Is(err, ErrLeaseLost):
			s.logger.Warn("lock ownership lost", "owner", s.opts.Owner)
			s.expiry.Stop()
			s.cancel(ErrLeaseLost)
			return
		default:
			s.logger.Debug("lock heartbeat failed", "error", err)
		}
	}
}

// RetryAcquire calls try until it succeeds, fails with something other than
// ErrBusy, or timeout elapses. A non-positive timeout means a single attempt.
func RetryAcquire(ctx context.Context, timeout time.Duration, try func(ctx context.Context) error) error {
	deadline := time.Now().Add(timeout)
	backoff := 25 * time.Millisecond
	for {
		err := try(ctx)
		if err == nil || !errors.Is(err, ErrBusy) {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrBusy
		}
		wait := backoff
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if backoff < 250*time.Millisecond {
			backoff *= 2
		}
	}
}
