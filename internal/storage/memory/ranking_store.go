package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/serp-rank-tracker/internal/clock/system"
	"github.com/JakeFAU/serp-rank-tracker/internal/id/uuid"
	"github.com/JakeFAU/serp-rank-tracker/internal/storage"
	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

// RankingStore provides an in-memory tracker.RankingStore. History lives for
// the process lifetime only.
type RankingStore struct {
	mu        sync.RWMutex
	projects  map[string]tracker.Project
	order     []string
	snapshots map[string][]tracker.RankingSnapshot
	settings  tracker.SchedulerSettings

	feed  *storage.SettingsFeed
	idGen tracker.IDGenerator
	clock tracker.Clock
}

// NewRankingStore constructs a RankingStore seeded with the initial settings.
// Nil id generators and clocks fall back to UUIDv7 and the system clock.
func NewRankingStore(settings tracker.SchedulerSettings, idGen tracker.IDGenerator, clock tracker.Clock) *RankingStore {
	if idGen == nil {
		idGen = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	return &RankingStore{
		projects:  make(map[string]tracker.Project),
		snapshots: make(map[string][]tracker.RankingSnapshot),
		settings:  settings,
		feed:      storage.NewSettingsFeed(),
		idGen:     idGen,
		clock:     clock,
	}
}

// ListProjects returns projects in creation order.
func (s *RankingStore) ListProjects(_ context.Context) ([]tracker.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.Project, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.projects[id].Clone())
	}
	return out, nil
}

// GetProject fetches a project by ID.
func (s *RankingStore) GetProject(_ context.Context, id string) (tracker.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return tracker.Project{}, tracker.ErrProjectNotFound
	}
	return p.Clone(), nil
}

// CreateProject validates and stores a new project.
func (s *RankingStore) CreateProject(_ context.Context, project tracker.Project) (tracker.Project, error) {
	prepared, err := tracker.PrepareProject(project, s.idGen, s.clock.Now())
	if err != nil {
		return tracker.Project{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[prepared.ID]; exists {
		return tracker.Project{}, errors.New("project already exists")
	}
	s.projects[prepared.ID] = prepared
	s.order = append(s.order, prepared.ID)
	return prepared.Clone(), nil
}

// UpdateProject applies a partial edit. Existing snapshots are untouched.
func (s *RankingStore) UpdateProject(
	_ context.Context,
	id string,
	update tracker.ProjectUpdate,
) (tracker.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return tracker.Project{}, tracker.ErrProjectNotFound
	}
	updated := update.Apply(p)
	if err := tracker.AssignKeywordIDs(updated.Keywords, s.idGen); err != nil {
		return tracker.Project{}, err
	}
	s.projects[id] = updated
	return updated.Clone(), nil
}

// DeleteProject removes a project and its ranking history.
func (s *RankingStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return tracker.ErrProjectNotFound
	}
	delete(s.projects, id)
	delete(s.snapshots, id)
	for i, pid := range s.order {
		if pid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// SaveRankingSnapshot appends a snapshot to the project's history.
func (s *RankingStore) SaveRankingSnapshot(
	_ context.Context,
	projectID string,
	rankings []tracker.KeywordRanking,
	checkedAt time.Time,
) (tracker.RankingSnapshot, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return tracker.RankingSnapshot{}, fmt.Errorf("generate snapshot id: %w", err)
	}
	snap := tracker.RankingSnapshot{
		ID:        id,
		ProjectID: projectID,
		Rankings:  append([]tracker.KeywordRanking{}, rankings...),
		CheckedAt: checkedAt,
	}.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[projectID] = append(s.snapshots[projectID], snap)
	return snap.Clone(), nil
}

// GetLatestSnapshot returns the most recently appended snapshot.
func (s *RankingStore) GetLatestSnapshot(_ context.Context, projectID string) (tracker.RankingSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.snapshots[projectID]
	if len(history) == 0 {
		return tracker.RankingSnapshot{}, tracker.ErrSnapshotNotFound
	}
	return history[len(history)-1].Clone(), nil
}

// GetAllSnapshots returns the project's history, oldest first.
func (s *RankingStore) GetAllSnapshots(_ context.Context, projectID string) ([]tracker.RankingSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.snapshots[projectID]
	out := make([]tracker.RankingSnapshot, 0, len(history))
	for _, snap := range history {
		out = append(out, snap.Clone())
	}
	return out, nil
}

// GetSettings returns the current scheduler settings.
func (s *RankingStore) GetSettings(_ context.Context) (tracker.SchedulerSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

// UpdateSettings applies a partial settings edit and notifies subscribers.
func (s *RankingStore) UpdateSettings(
	_ context.Context,
	update tracker.SettingsUpdate,
) (tracker.SchedulerSettings, error) {
	s.mu.Lock()
	next := s.settings
	if update.IntervalMinutes != nil {
		next.IntervalMinutes = *update.IntervalMinutes
	}
	if err := tracker.ValidateSettings(next); err != nil {
		s.mu.Unlock()
		return tracker.SchedulerSettings{}, err
	}
	s.settings = next
	// Publishing under the lock keeps notification order equal to write order.
	s.feed.Publish(next)
	s.mu.Unlock()
	return next, nil
}

// SubscribeSettings registers a settings-change listener.
func (s *RankingStore) SubscribeSettings() (<-chan tracker.SchedulerSettings, func()) {
	return s.feed.Subscribe()
}
