package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/config"
)

func baseConfig() config.Config {
	return config.Config{
		Server:    config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
		Serper:    config.SerperConfig{BaseURL: "http://127.0.0.1:1", TimeoutSeconds: 1, MaxPages: 5},
		Scheduler: config.SchedulerConfig{IntervalMinutes: 5},
		Store:     config.StoreConfig{Driver: config.StoreMemory},
		Archive:   config.ArchiveConfig{Driver: config.ArchiveNone, Prefix: "snapshots"},
	}
}

func TestBuildInMemoryApp(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, app.Scheduler().Status().IsRunning)
}

func TestBuildWithLocalArchive(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Archive.Driver = config.ArchiveLocal
	cfg.Archive.BaseDir = filepath.Join(t.TempDir(), "archive")

	app, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	report, err := app.Scheduler().RunImmediateCheck(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.ProjectsChecked)
}

func TestBuildPostgresRequiresReachableDSN(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Store.Driver = config.StorePostgres
	cfg.DB.DSN = "not a dsn"

	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "ranking store init failed")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Server.Port = 0
	cfg.Scheduler.RunOnStart = true

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return app.Scheduler().Status().IsRunning
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	require.False(t, app.Scheduler().Status().IsRunning)
}

func TestRunClosesInfrastructureWhenSchedulerFailsToStart(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Scheduler.IntervalMinutes = 0

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	err = app.Run(context.Background())
	require.ErrorContains(t, err, "start scheduler")
	require.True(t, app.closed)

	app.Close()
}
