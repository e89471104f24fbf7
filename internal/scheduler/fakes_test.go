package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

type fakeTicker struct {
	d       time.Duration
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(d time.Duration) tracker.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{d: d, ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) latest() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// Fire delivers one tick on the most recently armed ticker.
func (c *fakeClock) Fire() {
	t := c.latest()
	t.ch <- c.Now()
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

// scriptedChecker answers Track from a per-keyword table.
type scriptedChecker struct {
	mu       sync.Mutex
	outcomes map[string]tracker.Outcome
	panicOn  string
	calls    []string
	entered  chan struct{}
	release  chan struct{}
}

func (c *scriptedChecker) Track(_ context.Context, keyword, _, _ string) tracker.Outcome {
	c.mu.Lock()
	c.calls = append(c.calls, keyword)
	entered, release := c.entered, c.release
	c.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if keyword == c.panicOn {
		panic("checker exploded")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes[keyword]
}

func (c *scriptedChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// flakyStore fails snapshot persistence for selected projects and can fail listing.
type flakyStore struct {
	tracker.RankingStore
	failSaveFor map[string]bool
	listErr     error
}

func (s *flakyStore) ListProjects(ctx context.Context) ([]tracker.Project, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.RankingStore.ListProjects(ctx)
}

func (s *flakyStore) SaveRankingSnapshot(
	ctx context.Context,
	projectID string,
	rankings []tracker.KeywordRanking,
	checkedAt time.Time,
) (tracker.RankingSnapshot, error) {
	if s.failSaveFor[projectID] {
		return tracker.RankingSnapshot{}, errors.New("disk full")
	}
	return s.RankingStore.SaveRankingSnapshot(ctx, projectID, rankings, checkedAt)
}

type recordingExporter struct {
	mu    sync.Mutex
	snaps []tracker.RankingSnapshot
	err   error
}

func (e *recordingExporter) Export(_ context.Context, _ tracker.Project, snap tracker.RankingSnapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snaps = append(e.snaps, snap)
	return e.err
}
