// Package export archives persisted ranking snapshots and announces them to
// downstream consumers.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/metrics"
	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

const timestampLayout = "20060102T150405Z"

// Config controls where documents are written and which topic is notified.
type Config struct {
	Prefix string
	Topic  string
}

// Document is the archived form of a snapshot.
type Document struct {
	Project  ProjectRef              `json:"project"`
	Snapshot tracker.RankingSnapshot `json:"snapshot"`
}

// ProjectRef identifies the project a snapshot belongs to.
type ProjectRef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	WebsiteURL string `json:"websiteUrl"`
	Country    string `json:"country"`
}

// Notification is the message published after a snapshot is archived.
type Notification struct {
	SnapshotID string    `json:"snapshot_id"`
	ProjectID  string    `json:"project_id"`
	CheckedAt  time.Time `json:"checked_at"`
	BlobURI    string    `json:"blob_uri,omitempty"`
	Keywords   int       `json:"keywords"`
	Found      int       `json:"found"`
}

// Exporter writes snapshots to a blob store and publishes a notification.
// Either sink may be nil.
type Exporter struct {
	blobs     tracker.BlobStore
	publisher tracker.Publisher
	hasher    tracker.Hasher
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Exporter.
func New(
	blobs tracker.BlobStore,
	publisher tracker.Publisher,
	hasher tracker.Hasher,
	cfg Config,
	logger *zap.Logger,
) (*Exporter, error) {
	if blobs == nil && publisher == nil {
		return nil, fmt.Errorf("at least one of blob store or publisher is required")
	}
	if blobs != nil && hasher == nil {
		return nil, fmt.Errorf("hasher is required when archiving")
	}
	if publisher != nil && strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("topic is required when publishing")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Exporter{
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Export archives the snapshot and publishes its notification.
func (e *Exporter) Export(ctx context.Context, project tracker.Project, snapshot tracker.RankingSnapshot) error {
	err := e.export(ctx, project, snapshot)
	metrics.ObserveExport(err == nil)
	return err
}

func (e *Exporter) export(ctx context.Context, project tracker.Project, snapshot tracker.RankingSnapshot) error {
	note := Notification{
		SnapshotID: snapshot.ID,
		ProjectID:  snapshot.ProjectID,
		CheckedAt:  snapshot.CheckedAt,
		Keywords:   len(snapshot.Rankings),
		Found:      snapshot.FoundCount(),
	}

	if e.blobs != nil {
		uri, err := e.archive(ctx, project, snapshot)
		if err != nil {
			return err
		}
		note.BlobURI = uri
	}

	if e.publisher != nil {
		msgID, err := e.publisher.Publish(ctx, e.cfg.Topic, note)
		if err != nil {
			return fmt.Errorf("publish snapshot notification: %w", err)
		}
		e.logger.Debug("snapshot notification published",
			zap.String("snapshot_id", snapshot.ID),
			zap.String("message_id", msgID),
		)
	}
	return nil
}

func (e *Exporter) archive(ctx context.Context, project tracker.Project, snapshot tracker.RankingSnapshot) (string, error) {
	body, err := json.Marshal(Document{
		Project: ProjectRef{
			ID:         project.ID,
			Name:       project.Name,
			WebsiteURL: project.WebsiteURL,
			Country:    project.Country,
		},
		Snapshot: snapshot,
	})
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	digest, err := e.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	uri, err := e.blobs.PutObject(ctx, e.ObjectPath(snapshot, digest), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive snapshot: %w", err)
	}
	return uri, nil
}

// ObjectPath names the archived document for a snapshot.
func (e *Exporter) ObjectPath(snapshot tracker.RankingSnapshot, digest string) string {
	name := fmt.Sprintf("%s-%s.json", snapshot.CheckedAt.UTC().Format(timestampLayout), digest)
	return path.Join(e.cfg.Prefix, snapshot.ProjectID, name)
}
