package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/config"
	"github.com/JakeFAU/serp-rank-tracker/internal/scheduler"
	"github.com/JakeFAU/serp-rank-tracker/internal/storage/memory"
	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

// --- helpers/fakes ---

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

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time                         { return c.now }
func (c fakeClock) NewTicker(time.Duration) tracker.Ticker { return nil }

type fakeScheduler struct {
	status tracker.SchedulerStatus
	report scheduler.CheckReport
	err    error
	calls  int
}

func (f *fakeScheduler) Status() tracker.SchedulerStatus { return f.status }

func (f *fakeScheduler) RunImmediateCheck(context.Context) (scheduler.CheckReport, error) {
	f.calls++
	return f.report, f.err
}

type brokenStore struct {
	tracker.RankingStore
}

func (brokenStore) GetSettings(context.Context) (tracker.SchedulerSettings, error) {
	return tracker.SchedulerSettings{}, errors.New("connection refused")
}

func (brokenStore) ListProjects(context.Context) ([]tracker.Project, error) {
	return nil, errors.New("connection refused")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	conn net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.conn, bufio.NewReadWriter(bufio.NewReader(h.conn), bufio.NewWriter(h.conn)), nil
}

var testNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestStore() *memory.RankingStore {
	return memory.NewRankingStore(tracker.SchedulerSettings{IntervalMinutes: 5}, &seqIDs{}, fakeClock{now: testNow})
}

func newTestServer(store tracker.RankingStore, sched Scheduler, cfg config.Config) *Server {
	return NewServer(store, sched, cfg, zap.NewNop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// --- probes ---

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	s := newTestServer(newTestStore(), &fakeScheduler{}, config.Config{})
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz", "").Code)

	broken := newTestServer(brokenStore{}, &fakeScheduler{}, config.Config{})
	require.Equal(t, http.StatusServiceUnavailable, do(t, broken, http.MethodGet, "/readyz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(newTestStore(), &fakeScheduler{}, config.Config{})
	do(t, s, http.MethodGet, "/healthz", "")
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

// --- projects and rankings ---

func TestProjectCRUD(t *testing.T) {
	t.Parallel()

	s := newTestServer(newTestStore(), &fakeScheduler{}, config.Config{})

	rec := do(t, s, http.MethodPost, "/api/projects",
		`{"name":"Shop","websiteUrl":"https://example.com","country":"US","keywords":[{"text":"shoes"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[tracker.Project](t, rec)
	require.Equal(t, "id-1", created.ID)
	require.Equal(t, "id-2", created.Keywords[0].ID)
	require.Equal(t, tracker.ProjectStatusDraft, created.Status)
	require.Equal(t, testNow, created.Created)

	rec = do(t, s, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]tracker.Project](t, rec)
	require.Len(t, list["projects"], 1)

	rec = do(t, s, http.MethodPatch, "/api/projects/id-1", `{"name":"Shop 2","status":"active"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[tracker.Project](t, rec)
	require.Equal(t, "Shop 2", updated.Name)
	require.Equal(t, tracker.ProjectStatusActive, updated.Status)
	require.Len(t, updated.Keywords, 1)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/projects/id-1", "").Code)
	require.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/projects/id-1", "").Code)
	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/projects/id-1", "").Code)
	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/projects/id-1", "").Code)
}

func TestCreateProjectValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(newTestStore(), &fakeScheduler{}, config.Config{})
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{invalid`},
		{"unknown field", `{"name":"x","websiteUrl":"a.com","country":"US","bogus":1}`},
		{"missing website", `{"name":"x","country":"US"}`},
		{"bad status", `{"name":"x","websiteUrl":"a.com","country":"US","status":"archived"}`},
		{"blank keyword", `{"name":"x","websiteUrl":"a.com","country":"US","keywords":[{"text":" "}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/projects", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRankingEndpoints(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()
	p, err := store.CreateProject(ctx, tracker.Project{
		Name: "Shop", WebsiteURL: "example.com", Country: "US",
		Keywords: []tracker.Keyword{{Text: "shoes"}, {Text: "boots"}},
	})
	require.NoError(t, err)
	s := newTestServer(store, &fakeScheduler{}, config.Config{})

	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/projects/"+p.ID+"/rankings/latest", "").Code)
	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/projects/missing/rankings", "").Code)

	pos := 7
	shoes := p.Keywords[0]
	for i := 0; i < 2; i++ {
		_, err := store.SaveRankingSnapshot(ctx, p.ID, []tracker.KeywordRanking{
			{KeywordID: shoes.ID, Keyword: shoes.Text, Found: true, Position: &pos, CheckedAt: testNow},
			{KeywordID: p.Keywords[1].ID, Keyword: "boots", CheckedAt: testNow},
		}, testNow.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	rec := do(t, s, http.MethodGet, "/api/projects/"+p.ID+"/rankings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[map[string][]tracker.RankingSnapshot](t, rec)
	require.Len(t, all["snapshots"], 2)

	rec = do(t, s, http.MethodGet, "/api/projects/"+p.ID+"/rankings/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[tracker.RankingSnapshot](t, rec)
	require.Equal(t, all["snapshots"][1].ID, latest.ID)

	rec = do(t, s, http.MethodGet, "/api/projects/"+p.ID+"/rankings/keywords/"+shoes.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		KeywordID string                        `json:"keywordId"`
		History   []tracker.KeywordHistoryPoint `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.History, 2)
	require.Equal(t, 7, *history.History[0].Ranking.Position)
}

func TestStoreFailureIsInternalError(t *testing.T) {
	t.Parallel()

	s := newTestServer(brokenStore{}, &fakeScheduler{}, config.Config{})
	rec := do(t, s, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
}

// --- scheduler and settings ---

func TestSchedulerStatus(t *testing.T) {
	t.Parallel()

	next := testNow.Add(5 * time.Minute)
	sched := &fakeScheduler{status: tracker.SchedulerStatus{IsRunning: true, IntervalMinutes: 5, NextCheckTime: &next}}
	s := newTestServer(newTestStore(), sched, config.Config{})

	rec := do(t, s, http.MethodGet, "/api/scheduler/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`{"isRunning":true,"intervalMinutes":5,"lastCheckTime":null,"nextCheckTime":"2024-06-01T08:05:00Z"}`,
		rec.Body.String())
}

func TestRunCheck(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{report: scheduler.CheckReport{ProjectsChecked: 2, SnapshotIDs: []string{"a", "b"}}}
	s := newTestServer(newTestStore(), sched, config.Config{})
	rec := do(t, s, http.MethodPost, "/api/scheduler/check", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[scheduler.CheckReport](t, rec)
	require.Equal(t, 2, report.ProjectsChecked)
	require.Equal(t, 1, sched.calls)

	sched.err = scheduler.ErrCheckInProgress
	require.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/api/scheduler/check", "").Code)

	sched.err = &scheduler.CycleError{Err: errors.New("list projects: db down")}
	require.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodPost, "/api/scheduler/check", "").Code)
}

func TestSettings(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	updates, cancel := store.SubscribeSettings()
	defer cancel()
	s := newTestServer(store, &fakeScheduler{}, config.Config{})

	rec := do(t, s, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"intervalMinutes":5}`, rec.Body.String())

	rec = do(t, s, http.MethodPut, "/api/settings", `{"intervalMinutes":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"intervalMinutes":10}`, rec.Body.String())
	require.Equal(t, 10, (<-updates).IntervalMinutes)

	for _, body := range []string{`{"intervalMinutes":0}`, `{"intervalMinutes":-3}`, `{}`, `{"intervalMinutes":"x"}`} {
		rec = do(t, s, http.MethodPut, "/api/settings", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	settings, err := store.GetSettings(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, settings.IntervalMinutes)
}

// --- middleware ---

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	s := newTestServer(newTestStore(), &fakeScheduler{}, cfg)

	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/api/settings", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/settings?api_key=secret", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code, "probes stay open")
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(newTestStore(), &fakeScheduler{}, config.Config{})
	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(newTestStore(), &fakeScheduler{}, config.Config{})
	handler := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.Error(t, err)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	rw = &responseWriter{ResponseWriter: &hijackableRecorder{ResponseRecorder: httptest.NewRecorder(), conn: server}}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.Equal(t, server, conn)
	require.NotNil(t, buf)
}
