package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/metrics"
	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

// CheckReport summarizes one completed check cycle.
type CheckReport struct {
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	ProjectsChecked int       `json:"projectsChecked"`
	ProjectsSkipped int       `json:"projectsSkipped"`
	ProjectsFailed  int       `json:"projectsFailed"`
	KeywordsChecked int       `json:"keywordsChecked"`
	SnapshotIDs     []string  `json:"snapshotIds"`
}

func (s *Scheduler) tryBeginCheck() bool {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	if s.checking {
		return false
	}
	s.checking = true
	return true
}

func (s *Scheduler) endCheck() {
	s.guardMu.Lock()
	s.checking = false
	s.guardMu.Unlock()
}

// runCheck executes one guarded check cycle over every project.
func (s *Scheduler) runCheck(ctx context.Context) (report CheckReport, err error) {
	if !s.tryBeginCheck() {
		s.logger.Info("previous ranking check still in progress, skipping this cycle")
		metrics.ObserveCycle(metrics.CycleSkipped, 0)
		return CheckReport{}, ErrCheckInProgress
	}

	report.StartedAt = s.clock.Now()
	report.SnapshotIDs = []string{}
	s.mu.Lock()
	s.lastCheck = report.StartedAt
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = &CycleError{Err: fmt.Errorf("panic: %v", r)}
		}
		report.FinishedAt = s.clock.Now()
		s.endCheck()

		duration := report.FinishedAt.Sub(report.StartedAt)
		if err != nil {
			metrics.ObserveCycle(metrics.CycleFailed, duration)
			s.logger.Error("scheduler error", zap.Error(err))
			return
		}
		metrics.ObserveCycle(metrics.CycleCompleted, duration)
		s.logger.Info("automatic ranking check completed",
			zap.Int("projects_checked", report.ProjectsChecked),
			zap.Int("projects_skipped", report.ProjectsSkipped),
			zap.Int("projects_failed", report.ProjectsFailed),
			zap.Int("keywords_checked", report.KeywordsChecked),
			zap.Duration("duration", duration),
		)
	}()

	projects, listErr := s.store.ListProjects(ctx)
	if listErr != nil {
		return report, &CycleError{Err: fmt.Errorf("list projects: %w", listErr)}
	}
	if len(projects) == 0 {
		s.logger.Info("no projects to check rankings for")
		return report, nil
	}
	s.logger.Info("starting ranking check", zap.Int("projects", len(projects)))

	for _, project := range projects {
		if len(project.Keywords) == 0 {
			report.ProjectsSkipped++
			s.logger.Info("skipping project with no keywords",
				zap.String("project_id", project.ID),
				zap.String("project", project.Name),
			)
			continue
		}
		snapshot, projErr := s.checkProject(ctx, project)
		if projErr != nil {
			report.ProjectsFailed++
			metrics.ObserveProjectFailure()
			s.logger.Error("error processing project",
				zap.String("project_id", project.ID),
				zap.String("project", project.Name),
				zap.Error(projErr),
			)
			continue
		}
		report.ProjectsChecked++
		report.KeywordsChecked += len(snapshot.Rankings)
		report.SnapshotIDs = append(report.SnapshotIDs, snapshot.ID)
	}
	return report, nil
}

// checkProject tracks every keyword of one project in order and persists the
// outcomes as a single snapshot. All entries share one checkedAt timestamp.
func (s *Scheduler) checkProject(ctx context.Context, project tracker.Project) (snapshot tracker.RankingSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while checking project: %v", r)
		}
	}()

	checkedAt := s.clock.Now()
	s.logger.Info("checking project keywords",
		zap.String("project_id", project.ID),
		zap.String("project", project.Name),
		zap.Int("keywords", len(project.Keywords)),
	)

	rankings := make([]tracker.KeywordRanking, 0, len(project.Keywords))
	for _, kw := range project.Keywords {
		outcome := s.checker.Track(ctx, kw.Text, project.WebsiteURL, project.Country)
		switch {
		case outcome.Error != nil:
			metrics.ObserveKeyword(metrics.KeywordError)
			s.logger.Warn("error checking keyword",
				zap.String("project_id", project.ID),
				zap.String("keyword", kw.Text),
				zap.String("error", *outcome.Error),
			)
		case outcome.Found:
			metrics.ObserveKeyword(metrics.KeywordFound)
		default:
			metrics.ObserveKeyword(metrics.KeywordNotFound)
		}
		rankings = append(rankings, tracker.NewKeywordRanking(kw, outcome, checkedAt))
	}

	snapshot, err = s.store.SaveRankingSnapshot(ctx, project.ID, rankings, checkedAt)
	if err != nil {
		return tracker.RankingSnapshot{}, fmt.Errorf("save ranking snapshot: %w", err)
	}
	s.logger.Info("completed ranking check for project",
		zap.String("project_id", project.ID),
		zap.String("project", project.Name),
		zap.Int("keywords", len(rankings)),
		zap.Int("found", snapshot.FoundCount()),
	)

	if s.exporter != nil {
		if exportErr := s.exporter.Export(ctx, project, snapshot); exportErr != nil {
			s.logger.Warn("snapshot export failed",
				zap.String("project_id", project.ID),
				zap.String("snapshot_id", snapshot.ID),
				zap.Error(exportErr),
			)
		}
	}
	return snapshot, nil
}
