// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/serp-rank-tracker/internal/clock/system"
	"github.com/JakeFAU/serp-rank-tracker/internal/id/uuid"
	"github.com/JakeFAU/serp-rank-tracker/internal/storage"
	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const settingsRowID = 1

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	ProjectsTable   string
	SnapshotsTable  string
	SettingsTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// EnsureSchema creates missing tables on startup.
	EnsureSchema bool
	// DefaultSettings are returned until a settings row has been written.
	DefaultSettings tracker.SchedulerSettings
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

type tables struct {
	projects  string
	snapshots string
	settings  string
}

// RankingStore persists projects, ranking history and scheduler settings in Postgres.
type RankingStore struct {
	pool     pool
	tables   tables
	defaults tracker.SchedulerSettings
	feed     *storage.SettingsFeed
	idGen    tracker.IDGenerator
	clock    tracker.Clock

	// settingsMu serializes settings writes so subscribers see them in
	// write order.
	settingsMu sync.Mutex
}

// NewRankingStore connects to Postgres using the provided config.
func NewRankingStore(ctx context.Context, cfg Config) (*RankingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRankingStoreWithPool(p, cfg, nil, nil)
	if err != nil {
		p.Close()
		return nil, err
	}
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewRankingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRankingStoreWithPool(
	p pool,
	cfg Config,
	idGen tracker.IDGenerator,
	clock tracker.Clock,
) (*RankingStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	t := tables{
		projects:  valueOr(cfg.ProjectsTable, "projects"),
		snapshots: valueOr(cfg.SnapshotsTable, "ranking_snapshots"),
		settings:  valueOr(cfg.SettingsTable, "scheduler_settings"),
	}
	for _, name := range []string{t.projects, t.snapshots, t.settings} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	if idGen == nil {
		idGen = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	return &RankingStore{
		pool:     p,
		tables:   t,
		defaults: cfg.DefaultSettings,
		feed:     storage.NewSettingsFeed(),
		idGen:    idGen,
		clock:    clock,
	}, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// Close releases the underlying pool resources.
func (s *RankingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the store's tables when they do not exist.
func (s *RankingStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	website_url TEXT NOT NULL,
	country TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	keywords JSONB NOT NULL,
	competitors JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`, s.tables.projects),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	project_id TEXT NOT NULL,
	checked_at TIMESTAMPTZ NOT NULL,
	rankings JSONB NOT NULL
)`, s.tables.snapshots),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_project_idx ON %s (project_id, seq)`,
			s.tables.snapshots, s.tables.snapshots),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY,
	interval_minutes INTEGER NOT NULL
)`, s.tables.settings),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *RankingStore) projectColumns() string {
	return "id, name, website_url, country, timezone, status, keywords, competitors, created_at"
}

func scanProject(row pgx.Row) (tracker.Project, error) {
	var (
		p           tracker.Project
		status      string
		keywords    []byte
		competitors []byte
	)
	if err := row.Scan(
		&p.ID, &p.Name, &p.WebsiteURL, &p.Country, &p.Timezone,
		&status, &keywords, &competitors, &p.Created,
	); err != nil {
		return tracker.Project{}, err
	}
	p.Status = tracker.ProjectStatus(status)
	p.Keywords = []tracker.Keyword{}
	p.Competitors = []tracker.Competitor{}
	if err := json.Unmarshal(keywords, &p.Keywords); err != nil {
		return tracker.Project{}, fmt.Errorf("decode keywords: %w", err)
	}
	if err := json.Unmarshal(competitors, &p.Competitors); err != nil {
		return tracker.Project{}, fmt.Errorf("decode competitors: %w", err)
	}
	return p, nil
}

// ListProjects returns projects ordered by creation time.
func (s *RankingStore) ListProjects(ctx context.Context) ([]tracker.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at, id`, s.projectColumns(), s.tables.projects)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []tracker.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// GetProject fetches a project by ID.
func (s *RankingStore) GetProject(ctx context.Context, id string) (tracker.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, s.projectColumns(), s.tables.projects)
	p, err := scanProject(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Project{}, tracker.ErrProjectNotFound
	}
	if err != nil {
		return tracker.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// CreateProject validates and inserts a new project.
func (s *RankingStore) CreateProject(ctx context.Context, project tracker.Project) (tracker.Project, error) {
	prepared, err := tracker.PrepareProject(project, s.idGen, s.clock.Now())
	if err != nil {
		return tracker.Project{}, err
	}
	keywords, competitors, err := encodeLists(prepared)
	if err != nil {
		return tracker.Project{}, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.tables.projects, s.projectColumns())
	if _, err := s.pool.Exec(ctx, query,
		prepared.ID, prepared.Name, prepared.WebsiteURL, prepared.Country, prepared.Timezone,
		string(prepared.Status), keywords, competitors, prepared.Created,
	); err != nil {
		return tracker.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return prepared, nil
}

func encodeLists(p tracker.Project) ([]byte, []byte, error) {
	keywords, err := json.Marshal(p.Keywords)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal keywords: %w", err)
	}
	competitors, err := json.Marshal(p.Competitors)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal competitors: %w", err)
	}
	return keywords, competitors, nil
}

// UpdateProject applies a partial edit inside a transaction.
func (s *RankingStore) UpdateProject(
	ctx context.Context,
	id string,
	update tracker.ProjectUpdate,
) (tracker.Project, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return tracker.Project{}, fmt.Errorf("begin tx: %w", err)
	}
	updated, err := s.updateProjectTx(ctx, tx, id, update)
	if err != nil {
		_ = tx.Rollback(ctx)
		return tracker.Project{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return tracker.Project{}, fmt.Errorf("commit tx: %w", err)
	}
	return updated, nil
}

func (s *RankingStore) updateProjectTx(
	ctx context.Context,
	tx pgx.Tx,
	id string,
	update tracker.ProjectUpdate,
) (tracker.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, s.projectColumns(), s.tables.projects)
	current, err := scanProject(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Project{}, tracker.ErrProjectNotFound
	}
	if err != nil {
		return tracker.Project{}, fmt.Errorf("load project: %w", err)
	}
	updated := update.Apply(current)
	if err := tracker.AssignKeywordIDs(updated.Keywords, s.idGen); err != nil {
		return tracker.Project{}, err
	}
	keywords, competitors, err := encodeLists(updated)
	if err != nil {
		return tracker.Project{}, err
	}
	stmt := fmt.Sprintf(`UPDATE %s SET name = $2, website_url = $3, country = $4, timezone = $5,
	status = $6, keywords = $7, competitors = $8 WHERE id = $1`, s.tables.projects)
	if _, err := tx.Exec(ctx, stmt,
		updated.ID, updated.Name, updated.WebsiteURL, updated.Country, updated.Timezone,
		string(updated.Status), keywords, competitors,
	); err != nil {
		return tracker.Project{}, fmt.Errorf("update project: %w", err)
	}
	return updated, nil
}

// DeleteProject removes a project and its ranking history in one transaction.
func (s *RankingStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tables.projects), id)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return tracker.ErrProjectNotFound
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE project_id = $1`, s.tables.snapshots), id); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("delete snapshots: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SaveRankingSnapshot appends a snapshot to the project's history.
func (s *RankingStore) SaveRankingSnapshot(
	ctx context.Context,
	projectID string,
	rankings []tracker.KeywordRanking,
	checkedAt time.Time,
) (tracker.RankingSnapshot, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return tracker.RankingSnapshot{}, fmt.Errorf("generate snapshot id: %w", err)
	}
	if rankings == nil {
		rankings = []tracker.KeywordRanking{}
	}
	body, err := json.Marshal(rankings)
	if err != nil {
		return tracker.RankingSnapshot{}, fmt.Errorf("marshal rankings: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, project_id, checked_at, rankings) VALUES ($1,$2,$3,$4)`,
		s.tables.snapshots)
	if _, err := s.pool.Exec(ctx, query, id, projectID, checkedAt, body); err != nil {
		return tracker.RankingSnapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return tracker.RankingSnapshot{
		ID:        id,
		ProjectID: projectID,
		Rankings:  append([]tracker.KeywordRanking{}, rankings...),
		CheckedAt: checkedAt,
	}, nil
}

func scanSnapshot(row pgx.Row) (tracker.RankingSnapshot, error) {
	var (
		snap tracker.RankingSnapshot
		body []byte
	)
	if err := row.Scan(&snap.ID, &snap.ProjectID, &snap.CheckedAt, &body); err != nil {
		return tracker.RankingSnapshot{}, err
	}
	snap.Rankings = []tracker.KeywordRanking{}
	if err := json.Unmarshal(body, &snap.Rankings); err != nil {
		return tracker.RankingSnapshot{}, fmt.Errorf("decode rankings: %w", err)
	}
	return snap, nil
}

// GetLatestSnapshot returns the most recently appended snapshot for a project.
func (s *RankingStore) GetLatestSnapshot(ctx context.Context, projectID string) (tracker.RankingSnapshot, error) {
	query := fmt.Sprintf(`SELECT id, project_id, checked_at, rankings FROM %s
WHERE project_id = $1 ORDER BY seq DESC LIMIT 1`, s.tables.snapshots)
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, projectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.RankingSnapshot{}, tracker.ErrSnapshotNotFound
	}
	if err != nil {
		return tracker.RankingSnapshot{}, fmt.Errorf("get latest snapshot: %w", err)
	}
	return snap, nil
}

// GetAllSnapshots returns a project's history, oldest first.
func (s *RankingStore) GetAllSnapshots(ctx context.Context, projectID string) ([]tracker.RankingSnapshot, error) {
	query := fmt.Sprintf(`SELECT id, project_id, checked_at, rankings FROM %s
WHERE project_id = $1 ORDER BY seq ASC`, s.tables.snapshots)
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	history := []tracker.RankingSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		history = append(history, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return history, nil
}

// GetSettings returns the stored scheduler settings, or the configured
// defaults when none have been written yet.
func (s *RankingStore) GetSettings(ctx context.Context) (tracker.SchedulerSettings, error) {
	query := fmt.Sprintf(`SELECT interval_minutes FROM %s WHERE id = $1`, s.tables.settings)
	var settings tracker.SchedulerSettings
	err := s.pool.QueryRow(ctx, query, settingsRowID).Scan(&settings.IntervalMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.defaults, nil
	}
	if err != nil {
		return tracker.SchedulerSettings{}, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings upserts the settings row and notifies subscribers.
func (s *RankingStore) UpdateSettings(
	ctx context.Context,
	update tracker.SettingsUpdate,
) (tracker.SchedulerSettings, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	next, err := s.GetSettings(ctx)
	if err != nil {
		return tracker.SchedulerSettings{}, err
	}
	if update.IntervalMinutes != nil {
		next.IntervalMinutes = *update.IntervalMinutes
	}
	if err := tracker.ValidateSettings(next); err != nil {
		return tracker.SchedulerSettings{}, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, interval_minutes) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET interval_minutes = EXCLUDED.interval_minutes`, s.tables.settings)
	if _, err := s.pool.Exec(ctx, query, settingsRowID, next.IntervalMinutes); err != nil {
		return tracker.SchedulerSettings{}, fmt.Errorf("update settings: %w", err)
	}
	s.feed.Publish(next)
	return next, nil
}

// SubscribeSettings registers a settings-change listener. Only changes made
// through this store instance are observed.
func (s *RankingStore) SubscribeSettings() (<-chan tracker.SchedulerSettings, func()) {
	return s.feed.Subscribe()
}
