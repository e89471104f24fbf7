package tracker

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidProject is returned when a project is missing required fields.
	ErrInvalidProject = errors.New("invalid project")
	// ErrInvalidSettings is returned for non-positive scheduler intervals.
	ErrInvalidSettings = errors.New("interval minutes must be a positive integer")
)

// PrepareProject validates a new project and fills in generated fields:
// project id, missing keyword and competitor ids, default status and creation time.
func PrepareProject(p Project, idGen IDGenerator, now time.Time) (Project, error) {
	out := p.Clone()
	if strings.TrimSpace(out.Name) == "" {
		return Project{}, fmt.Errorf("%w: name is required", ErrInvalidProject)
	}
	if strings.TrimSpace(out.WebsiteURL) == "" {
		return Project{}, fmt.Errorf("%w: website url is required", ErrInvalidProject)
	}
	if strings.TrimSpace(out.Country) == "" {
		return Project{}, fmt.Errorf("%w: country is required", ErrInvalidProject)
	}
	if out.ID == "" {
		id, err := idGen.NewID()
		if err != nil {
			return Project{}, fmt.Errorf("generate project id: %w", err)
		}
		out.ID = id
	}
	if err := AssignKeywordIDs(out.Keywords, idGen); err != nil {
		return Project{}, err
	}
	for i := range out.Competitors {
		if out.Competitors[i].ID != "" {
			continue
		}
		id, err := idGen.NewID()
		if err != nil {
			return Project{}, fmt.Errorf("generate competitor id: %w", err)
		}
		out.Competitors[i].ID = id
	}
	if out.Keywords == nil {
		out.Keywords = []Keyword{}
	}
	if out.Competitors == nil {
		out.Competitors = []Competitor{}
	}
	if out.Status == "" {
		out.Status = ProjectStatusDraft
	}
	if out.Created.IsZero() {
		out.Created = now
	}
	return out, nil
}

// AssignKeywordIDs gives every keyword without an id a fresh one, in place.
// Existing ids are kept so rankings stay correlated across edits.
func AssignKeywordIDs(keywords []Keyword, idGen IDGenerator) error {
	for i := range keywords {
		if strings.TrimSpace(keywords[i].Text) == "" {
			return fmt.Errorf("%w: keyword text is required", ErrInvalidProject)
		}
		if keywords[i].ID != "" {
			continue
		}
		id, err := idGen.NewID()
		if err != nil {
			return fmt.Errorf("generate keyword id: %w", err)
		}
		keywords[i].ID = id
	}
	return nil
}

// ValidateSettings rejects non-positive intervals.
func ValidateSettings(s SchedulerSettings) error {
	if s.IntervalMinutes <= 0 {
		return ErrInvalidSettings
	}
	return nil
}

// KeywordHistory extracts one keyword's rankings from chronologically ordered
// snapshots, matching on keyword id.
func KeywordHistory(snapshots []RankingSnapshot, keywordID string) []KeywordHistoryPoint {
	var out []KeywordHistoryPoint
	for _, s := range snapshots {
		for _, r := range s.Rankings {
			if r.KeywordID == keywordID {
				out = append(out, KeywordHistoryPoint{SnapshotID: s.ID, Ranking: r})
				break
			}
		}
	}
	return out
}
