// Package keyword resolves the ranking of one keyword for one website by
// combining the search provider with the ranking resolver.
package keyword

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/resolver"
	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

// Tracker implements tracker.KeywordChecker.
type Tracker struct {
	provider tracker.SearchProvider
	logger   *zap.Logger
}

// New constructs a Tracker.
func New(provider tracker.SearchProvider, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{provider: provider, logger: logger}
}

// Track never fails: provider errors, and panics below it, are folded into
// the outcome's Error field so one bad keyword cannot abort a batch.
func (t *Tracker) Track(ctx context.Context, keyword, websiteURL, regionCode string) (out tracker.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("keyword tracking panicked", zap.String("keyword", keyword), zap.Any("panic", rec))
			out = tracker.Outcome{Error: strPtr(fmt.Sprintf("keyword tracking panicked: %v", rec))}
		}
	}()

	if t.provider == nil {
		return tracker.Outcome{Error: strPtr("no search provider configured")}
	}

	results, err := t.provider.FetchAllPages(ctx, keyword, regionCode)
	var errText *string
	if err != nil {
		errText = strPtr(err.Error())
		t.logger.Warn("keyword fetch incomplete",
			zap.String("keyword", keyword),
			zap.Int("results", len(results)),
			zap.Error(err),
		)
	}

	match, ok := resolver.Resolve(results, websiteURL)
	if !ok {
		return tracker.Outcome{Error: errText}
	}
	// A match inside partial results is a valid ranking; the page failure
	// after it is only logged.
	return FromMatch(match)
}

// FromMatch builds a found outcome, deriving page and in-page position from
// the overall position.
func FromMatch(m tracker.Match) tracker.Outcome {
	page, onPage := PagePosition(m.Position)
	pos := m.Position
	return tracker.Outcome{
		Found:           true,
		OverallPosition: &pos,
		Page:            &page,
		PositionOnPage:  &onPage,
		URL:             strPtr(m.URL),
		Title:           strPtr(m.Title),
	}
}

// PagePosition converts a 1-based overall position into a 1-based page and
// position within that page.
func PagePosition(overall int) (page, onPage int) {
	if overall < 1 {
		return 0, 0
	}
	page = (overall + tracker.PageSize - 1) / tracker.PageSize
	onPage = (overall-1)%tracker.PageSize + 1
	return page, onPage
}

func strPtr(s string) *string {
	return &s
}
