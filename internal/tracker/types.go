// Package tracker defines core types shared across the rank tracking subsystems.
package tracker

import (
	"time"
)

// PageSize is the number of organic results requested per provider page.
const PageSize = 10

// ProjectStatus represents the lifecycle state of a tracked project.
type ProjectStatus string

// Project status values persisted in the ranking store.
const (
	ProjectStatusDraft  ProjectStatus = "draft"
	ProjectStatusActive ProjectStatus = "active"
	ProjectStatusPaused ProjectStatus = "paused"
)

// Keyword is a tracked search phrase embedded in a project.
type Keyword struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

// Competitor is a rival website recorded alongside a project.
type Competitor struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Project is a tracked website and the keywords it is checked for.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	WebsiteURL  string        `json:"websiteUrl"`
	Country     string        `json:"country"`
	Timezone    string        `json:"timezone,omitempty"`
	Keywords    []Keyword     `json:"keywords"`
	Competitors []Competitor  `json:"competitors"`
	Status      ProjectStatus `json:"status"`
	Created     time.Time     `json:"createdAt"`
}

// ProjectUpdate carries a partial project edit; nil fields are left untouched.
type ProjectUpdate struct {
	Name        *string        `json:"name,omitempty"`
	WebsiteURL  *string        `json:"websiteUrl,omitempty"`
	Country     *string        `json:"country,omitempty"`
	Timezone    *string        `json:"timezone,omitempty"`
	Keywords    []Keyword      `json:"keywords,omitempty"`
	Competitors []Competitor   `json:"competitors,omitempty"`
	Status      *ProjectStatus `json:"status,omitempty"`
}

// Apply returns a copy of p with the update's non-nil fields applied.
func (u ProjectUpdate) Apply(p Project) Project {
	out := p.Clone()
	if u.Name != nil {
		out.Name = *u.Name
	}
	if u.WebsiteURL != nil {
		out.WebsiteURL = *u.WebsiteURL
	}
	if u.Country != nil {
		out.Country = *u.Country
	}
	if u.Timezone != nil {
		out.Timezone = *u.Timezone
	}
	if u.Keywords != nil {
		out.Keywords = make([]Keyword, len(u.Keywords))
		copy(out.Keywords, u.Keywords)
	}
	if u.Competitors != nil {
		out.Competitors = make([]Competitor, len(u.Competitors))
		copy(out.Competitors, u.Competitors)
	}
	if u.Status != nil {
		out.Status = *u.Status
	}
	return out
}

// Clone deep-copies the project's slices so callers cannot mutate stored state.
func (p Project) Clone() Project {
	cp := p
	if p.Keywords != nil {
		cp.Keywords = make([]Keyword, len(p.Keywords))
		copy(cp.Keywords, p.Keywords)
	}
	if p.Competitors != nil {
		cp.Competitors = make([]Competitor, len(p.Competitors))
		copy(cp.Competitors, p.Competitors)
	}
	return cp
}

// SearchResult is one organic result returned by the search provider.
type SearchResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet,omitempty"`
	Position int    `json:"position"`
}

// Match is the first result belonging to the target domain.
type Match struct {
	Position int
	URL      string
	Title    string
}

// Outcome is the per-keyword result produced by the keyword tracker.
type Outcome struct {
	Found           bool
	OverallPosition *int
	Page            *int
	PositionOnPage  *int
	URL             *string
	Title           *string
	Error           *string
}

// KeywordRanking records where one keyword ranked during a check.
// Keyword text is copied so history survives keyword edits and removals.
type KeywordRanking struct {
	KeywordID      string    `json:"keywordId"`
	Keyword        string    `json:"keyword"`
	Found          bool      `json:"found"`
	Position       *int      `json:"position"`
	Page           *int      `json:"page"`
	PositionOnPage *int      `json:"positionOnPage"`
	URL            *string   `json:"url"`
	Title          *string   `json:"title"`
	CheckedAt      time.Time `json:"checkedAt"`
	Error          *string   `json:"error,omitempty"`
}

// Clone returns a copy that shares no pointers with r.
func (r KeywordRanking) Clone() KeywordRanking {
	cp := r
	cp.Position = clonePtr(r.Position)
	cp.Page = clonePtr(r.Page)
	cp.PositionOnPage = clonePtr(r.PositionOnPage)
	cp.URL = clonePtr(r.URL)
	cp.Title = clonePtr(r.Title)
	cp.Error = clonePtr(r.Error)
	return cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NewKeywordRanking combines a keyword with a tracker outcome.
func NewKeywordRanking(kw Keyword, out Outcome, checkedAt time.Time) KeywordRanking {
	return KeywordRanking{
		KeywordID:      kw.ID,
		Keyword:        kw.Text,
		Found:          out.Found,
		Position:       out.OverallPosition,
		Page:           out.Page,
		PositionOnPage: out.PositionOnPage,
		URL:            out.URL,
		Title:          out.Title,
		CheckedAt:      checkedAt,
		Error:          out.Error,
	}
}

// RankingSnapshot is an immutable point-in-time record of a project's rankings.
type RankingSnapshot struct {
	ID        string           `json:"id"`
	ProjectID string           `json:"projectId"`
	Rankings  []KeywordRanking `json:"rankings"`
	CheckedAt time.Time        `json:"checkedAt"`
}

// Clone returns a deep copy, pointer fields included.
func (s RankingSnapshot) Clone() RankingSnapshot {
	cp := s
	if s.Rankings != nil {
		cp.Rankings = make([]KeywordRanking, len(s.Rankings))
		for i, r := range s.Rankings {
			cp.Rankings[i] = r.Clone()
		}
	}
	return cp
}

// FoundCount reports how many keywords were located in the results.
func (s RankingSnapshot) FoundCount() int {
	n := 0
	for _, r := range s.Rankings {
		if r.Found {
			n++
		}
	}
	return n
}

// SchedulerSettings is the singleton, user-editable scheduler configuration.
type SchedulerSettings struct {
	IntervalMinutes int `json:"intervalMinutes"`
}

// SettingsUpdate is a partial settings edit.
type SettingsUpdate struct {
	IntervalMinutes *int `json:"intervalMinutes,omitempty"`
}

// SchedulerStatus is reported by the status endpoint.
type SchedulerStatus struct {
	IsRunning       bool       `json:"isRunning"`
	IntervalMinutes int        `json:"intervalMinutes"`
	LastCheckTime   *time.Time `json:"lastCheckTime"`
	NextCheckTime   *time.Time `json:"nextCheckTime"`
}

// KeywordHistoryPoint is one keyword's ranking taken from a snapshot.
type KeywordHistoryPoint struct {
	SnapshotID string         `json:"snapshotId"`
	Ranking    KeywordRanking `json:"ranking"`
}
