package expiry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/metrics"
)

// ErrClosed is returned by Register after Close.
var ErrClosed = errors.New("expiry scheduler closed")

// Config holds scheduler tunables. Zero values pick defaults.
type Config struct {
	RetryBase   time.Duration // first retry delay after a storage error (default 1s)
	RetryMax    time.Duration // cap on the doubling delay (default 5m)
	MaxAttempts int           // give up after this many failed purges (default 10)
	Logger      *slog.Logger
	Metrics     app.Metrics
}

// Lister yields the records whose timers must be re-armed after a restart.
type Lister interface {
	List(ctx context.Context) ([]domain.FileObject, error)
}

type timer interface{ Stop() bool }

type entry struct {
	at       time.Time
	t        timer
	attempts int
}

// Scheduler keeps one expiry timer per live object. When a timer fires the
// object is purged from both stores and the entry removes itself.
type Scheduler struct {
	purger app.Purger
	cfg    Config
	log    *slog.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) timer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[domain.FileID]*entry
	closed  bool
	running sync.WaitGroup
}

var _ app.Scheduler = (*Scheduler)(nil)

// NewScheduler returns a scheduler purging through p.
func NewScheduler(p app.Purger, cfg Config) *Scheduler {
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		purger:    p,
		cfg:       cfg,
		log:       cfg.Logger.With("domain", "expiry"),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) },
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[domain.FileID]*entry),
	}
}

// Register arms the expiry of id at the given instant, replacing any timer
// already pending for it. Past instants fire immediately.
func (s *Scheduler) Register(id domain.FileID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if old, ok := s.entries[id]; ok {
		old.t.Stop()
	}
	e := &entry{at: at}
	s.entries[id] = e
	s.arm(id, e, max(at.Sub(s.now()), 0))
	return nil
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(id domain.FileID, e *entry, d time.Duration) {
	e.t = s.afterFunc(d, func() { s.fire(id, e) })
}

// Cancel disarms the pending expiry of id. It reports whether a timer was
// stopped before firing; unknown, fired, and canceled ids return false.
func (s *Scheduler) Cancel(id domain.FileID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	return e.t.Stop()
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Restore re-arms timers for every record in l and returns how many were armed.
func (s *Scheduler) Restore(ctx context.Context, l Lister) (int, error) {
	objs, err := l.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range objs {
		if err := s.Register(o.ID, o.ExpiresAt); err != nil {
			return n, err
		}
		n++
	}
	s.log.Info("timers restored", "count", n)
	return n, nil
}

// Close stops every pending timer and waits for in-flight purges.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, e := range s.entries {
		e.t.Stop()
		delete(s.entries, id)
	}
	s.mu.Unlock()
	s.cancel()
	s.running.Wait()
}

func (s *Scheduler) fire(id domain.FileID, e *entry) {
	s.mu.Lock()
	if s.closed || s.entries[id] != e {
		s.mu.Unlock()
		return
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	log := s.log.With("id", id.String())
	res, err := s.purger.Purge(s.ctx, id)
	switch {
	case err == nil:
		if res.BlobMissing {
			log.Warn("expired file had no blob")
		}
		log.Info("file expired")
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Inc(metrics.CounterFilesExpired, 1)
		}
	case errors.Is(err, domain.ErrNotFound):
		log.Debug("file already gone at expiry")
	case errors.Is(err, context.Canceled) && s.ctx.Err() != nil:
		return
	default:
		s.retry(id, e, err)
		return
	}
	s.mu.Lock()
	if s.entries[id] == e {
		delete(s.entries, id)
	}
	s.mu.Unlock()
}

func (s *Scheduler) retry(id domain.FileID, e *entry, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.entries[id] != e {
		return
	}
	e.attempts++
	if e.attempts >= s.cfg.MaxAttempts {
		delete(s.entries, id)
		s.log.Error("expiry abandoned; janitor sweep will remove it", "id", id.String(), "attempts", e.attempts, "error", cause)
		return
	}
	d := s.cfg.RetryBase << (e.attempts - 1)
	if d <= 0 || d > s.cfg.RetryMax {
		d = s.cfg.RetryMax
	}
	s.log.Warn("expiry failed, retrying", "id", id.String(), "attempt", e.attempts, "in", d, "error", cause)
	s.arm(id, e, d)
}
