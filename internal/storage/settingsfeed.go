// Package storage holds pieces shared by the ranking store implementations.
package storage

import (
	"sync"

	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

// SettingsFeed broadcasts scheduler settings changes to subscribers. Each
// subscriber channel holds at most one pending value; a newer value replaces
// an unread older one, so a slow reader only ever sees the latest settings.
type SettingsFeed struct {
	mu     sync.Mutex
	subs   map[int]chan tracker.SchedulerSettings
	nextID int
}

// NewSettingsFeed constructs an empty feed.
func NewSettingsFeed() *SettingsFeed {
	return &SettingsFeed{subs: make(map[int]chan tracker.SchedulerSettings)}
}

// Subscribe registers a listener. The returned cancel function closes the
// channel and is safe to call more than once.
func (f *SettingsFeed) Subscribe() (<-chan tracker.SchedulerSettings, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan tracker.SchedulerSettings, 1)
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers settings to every subscriber without blocking.
func (f *SettingsFeed) Publish(s tracker.SchedulerSettings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
