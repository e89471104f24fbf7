package tracker

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrProjectNotFound is returned when a project id is unknown to the store.
	ErrProjectNotFound = errors.New("project not found")
	// ErrSnapshotNotFound is returned when a project has no ranking history yet.
	ErrSnapshotNotFound = errors.New("ranking snapshot not found")
)

// ProjectStore persists tracked projects and their embedded keywords.
type ProjectStore interface {
	ListProjects(ctx context.Context) ([]Project, error)
	GetProject(ctx context.Context, id string) (Project, error)
	CreateProject(ctx context.Context, project Project) (Project, error)
	UpdateProject(ctx context.Context, id string, update ProjectUpdate) (Project, error)
	DeleteProject(ctx context.Context, id string) error
}

// SnapshotStore is the append-only ranking history.
type SnapshotStore interface {
	SaveRankingSnapshot(
		ctx context.Context,
		projectID string,
		rankings []KeywordRanking,
		checkedAt time.Time,
	) (RankingSnapshot, error)
	GetLatestSnapshot(ctx context.Context, projectID string) (RankingSnapshot, error)
	GetAllSnapshots(ctx context.Context, projectID string) ([]RankingSnapshot, error)
}

// SettingsStore owns the singleton scheduler settings and publishes changes.
type SettingsStore interface {
	GetSettings(ctx context.Context) (SchedulerSettings, error)
	UpdateSettings(ctx context.Context, update SettingsUpdate) (SchedulerSettings, error)
	// SubscribeSettings returns a channel that receives every settings value
	// written after the call, plus a function that ends the subscription.
	SubscribeSettings() (<-chan SchedulerSettings, func())
}

// RankingStore is the full persistence contract used by the service.
type RankingStore interface {
	ProjectStore
	SnapshotStore
	SettingsStore
}

// SearchProvider fetches organic search results for a query.
type SearchProvider interface {
	// FetchAllPages returns results concatenated across pages. A non-nil error
	// may accompany partial results gathered before the failure.
	FetchAllPages(ctx context.Context, query, regionCode string) ([]SearchResult, error)
}

// KeywordChecker resolves the ranking of one keyword for one website.
type KeywordChecker interface {
	Track(ctx context.Context, keyword, websiteURL, regionCode string) Outcome
}

// SnapshotExporter fans persisted snapshots out to archives and subscribers.
type SnapshotExporter interface {
	Export(ctx context.Context, project Project, snapshot RankingSnapshot) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes snapshot notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock returns the current time and builds tickers (useful for testing).
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// IDGenerator produces snapshot, project and keyword IDs.
type IDGenerator interface {
	NewID() (string, error)
}
