package expiry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/metrics"
)

// fakePurger holds a set of live ids; Purge removes one atomically.
type fakePurger struct {
	mu    sync.Mutex
	live  map[domain.FileID]bool
	fails int // remaining calls that return a storage error
	calls atomic.Int32
	wins  atomic.Int32
}

func newPurger(ids ...domain.FileID) *fakePurger {
	p := &fakePurger{live: map[domain.FileID]bool{}}
	for _, id := range ids {
		p.live[id] = true
	}
	return p
}

func (p *fakePurger) Purge(_ context.Context, id domain.FileID) (app.Purged, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return app.Purged{}, domain.ErrStorageUnavailable
	}
	if !p.live[id] {
		return app.Purged{}, domain.ErrNotFound
	}
	delete(p.live, id)
	p.wins.Add(1)
	return app.Purged{Object: domain.FileObject{ID: id}}, nil
}

func (p *fakePurger) alive(id domain.FileID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live[id]
}

type countingMetrics struct {
	mu sync.Mutex
	c  map[string]int64
}

func (m *countingMetrics) Inc(name string, d int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		m.c = map[string]int64{}
	}
	m.c[name] += d
}

func (m *countingMetrics) Observe(string, int64) {}

func (m *countingMetrics) get(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c[name]
}

func newID(t *testing.T) domain.FileID {
	t.Helper()
	id, err := domain.NewID()
	require.NoError(t, err)
	return id
}

func TestSchedulerFires(t *testing.T) {
	id := newID(t)
	p := newPurger(id)
	m := &countingMetrics{}
	s := NewScheduler(p, Config{Metrics: m})
	defer s.Close()

	require.NoError(t, s.Register(id, time.Now().Add(10*time.Millisecond)))
	assert.Equal(t, 1, s.Pending())
	assert.Eventually(t, func() bool { return !p.alive(id) && s.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return m.get(metrics.CounterFilesExpired) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerCancelBeforeFire(t *testing.T) {
	id := newID(t)
	p := newPurger(id)
	s := NewScheduler(p, Config{})
	defer s.Close()

	require.NoError(t, s.Register(id, time.Now().Add(30*time.Millisecond)))
	assert.True(t, s.Cancel(id))
	assert.False(t, s.Cancel(id))
	assert.False(t, s.Cancel(newID(t)))

	time.Sleep(80 * time.Millisecond)
	assert.True(t, p.alive(id))
	assert.Zero(t, p.calls.Load())
	assert.Zero(t, s.Pending())
}

func TestSchedulerRegisterReplaces(t *testing.T) {
	id := newID(t)
	p := newPurger(id)
	s := NewScheduler(p, Config{})
	defer s.Close()

	require.NoError(t, s.Register(id, time.Now().Add(time.Hour)))
	require.NoError(t, s.Register(id, time.Now().Add(-time.Second)))
	assert.Eventually(t, func() bool { return !p.alive(id) }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, p.calls.Load())
	assert.Zero(t, s.Pending())
}

func TestSchedulerAlreadyGoneIsBenign(t *testing.T) {
	id := newID(t)
	p := newPurger() // id not live
	s := NewScheduler(p, Config{})
	defer s.Close()

	require.NoError(t, s.Register(id, time.Now()))
	assert.Eventually(t, func() bool { return s.Pending() == 0 && p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerRetriesStorageErrors(t *testing.T) {
	id := newID(t)
	p := newPurger(id)
	p.fails = 2
	s := NewScheduler(p, Config{RetryBase: time.Millisecond, RetryMax: 4 * time.Millisecond})
	defer s.Close()

	require.NoError(t, s.Register(id, time.Now()))
	assert.Eventually(t, func() bool { return !p.alive(id) && s.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, p.calls.Load())
}

func TestSchedulerGivesUp(t *testing.T) {
	id := newID(t)
	p := newPurger(id)
	p.fails = 100
	s := NewScheduler(p, Config{RetryBase: time.Millisecond, RetryMax: time.Millisecond, MaxAttempts: 3})
	defer s.Close()

	require.NoError(t, s.Register(id, time.Now()))
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 3, p.calls.Load())
	assert.True(t, p.alive(id))
}

func TestSchedulerCancelStopsRetry(t *testing.T) {
	id := newID(t)
	p := newPurger(id)
	p.fails = 1
	s := NewScheduler(p, Config{RetryBase: 50 * time.Millisecond})
	defer s.Close()

	require.NoError(t, s.Register(id, time.Now()))
	assert.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	// the retry may or may not be armed yet; either way nothing runs after Cancel
	s.Cancel(id)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, p.calls.Load())
	assert.True(t, p.alive(id))
}

func TestSchedulerConcurrentDeleteAndFire(t *testing.T) {
	for range 50 {
		id := newID(t)
		p := newPurger(id)
		s := NewScheduler(p, Config{})

		require.NoError(t, s.Register(id, time.Now()))
		// explicit delete path: cancel then purge
		s.Cancel(id)
		_, err := p.Purge(context.Background(), id)
		if err != nil {
			require.ErrorIs(t, err, domain.ErrNotFound)
		}
		s.Close()
		assert.False(t, p.alive(id))
		assert.EqualValues(t, 1, p.wins.Load())
	}
}

type staticLister []domain.FileObject

func (l staticLister) List(context.Context) ([]domain.FileObject, error) { return l, nil }

type errLister struct{}

func (errLister) List(context.Context) ([]domain.FileObject, error) { return nil, errors.New("down") }

func TestSchedulerRestore(t *testing.T) {
	past, future := newID(t), newID(t)
	p := newPurger(past, future)
	s := NewScheduler(p, Config{})
	defer s.Close()

	n, err := s.Restore(context.Background(), staticLister{
		{ID: past, ExpiresAt: time.Now().Add(-time.Minute)},
		{ID: future, ExpiresAt: time.Now().Add(time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Eventually(t, func() bool { return !p.alive(past) }, time.Second, 5*time.Millisecond)
	assert.True(t, p.alive(future))
	assert.Equal(t, 1, s.Pending())

	_, err = s.Restore(context.Background(), errLister{})
	assert.Error(t, err)
}

func TestSchedulerClose(t *testing.T) {
	id := newID(t)
	p := newPurger(id)
	s := NewScheduler(p, Config{})
	require.NoError(t, s.Register(id, time.Now().Add(20*time.Millisecond)))
	s.Close()
	s.Close()
	assert.Zero(t, s.Pending())
	assert.ErrorIs(t, s.Register(id, time.Now()), ErrClosed)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, p.alive(id))
}

type fakeTimer struct{ stopped bool }

func (f *fakeTimer) Stop() bool {
	was := !f.stopped
	f.stopped = true
	return was
}

func TestSchedulerDelayFromClock(t *testing.T) {
	s := NewScheduler(newPurger(), Config{})
	defer s.Close()
	base := time.Unix(1700000000, 0)
	s.now = func() time.Time { return base }
	var got []time.Duration
	s.afterFunc = func(d time.Duration, _ func()) timer {
		got = append(got, d)
		return &fakeTimer{}
	}
	require.NoError(t, s.Register(newID(t), base.Add(90*time.Second)))
	require.NoError(t, s.Register(newID(t), base.Add(-time.Hour)))
	assert.Equal(t, []time.Duration{90 * time.Second, 0}, got)
}
