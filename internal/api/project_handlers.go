package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

type createProjectRequest struct {
	Name        string                `json:"name"`
	WebsiteURL  string                `json:"websiteUrl"`
	Country     string                `json:"country"`
	Timezone    string                `json:"timezone"`
	Keywords    []tracker.Keyword     `json:"keywords"`
	Competitors []tracker.Competitor  `json:"competitors"`
	Status      tracker.ProjectStatus `json:"status"`
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.storeError(w, "list_projects", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !validStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "unknown project status")
		return
	}
	project, err := s.store.CreateProject(r.Context(), tracker.Project{
		Name:        req.Name,
		WebsiteURL:  req.WebsiteURL,
		Country:     req.Country,
		Timezone:    req.Timezone,
		Keywords:    req.Keywords,
		Competitors: req.Competitors,
		Status:      req.Status,
	})
	if err != nil {
		s.storeError(w, "create_project", err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		s.storeError(w, "get_project", err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	var update tracker.ProjectUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if update.Status != nil && (*update.Status == "" || !validStatus(*update.Status)) {
		writeError(w, http.StatusBadRequest, "unknown project status")
		return
	}
	project, err := s.store.UpdateProject(r.Context(), chi.URLParam(r, "project_id"), update)
	if err != nil {
		s.storeError(w, "update_project", err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProject(r.Context(), chi.URLParam(r, "project_id")); err != nil {
		s.storeError(w, "delete_project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// projectExists writes a 404 and returns false when the project is unknown.
func (s *Server) projectExists(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "project_id")
	if _, err := s.store.GetProject(r.Context(), id); err != nil {
		s.storeError(w, "get_project", err)
		return "", false
	}
	return id, true
}

func (s *Server) listRankings(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectExists(w, r)
	if !ok {
		return
	}
	history, err := s.store.GetAllSnapshots(r.Context(), id)
	if err != nil {
		s.storeError(w, "list_rankings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": history})
}

func (s *Server) latestRanking(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectExists(w, r)
	if !ok {
		return
	}
	snapshot, err := s.store.GetLatestSnapshot(r.Context(), id)
	if err != nil {
		s.storeError(w, "latest_ranking", err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) keywordHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectExists(w, r)
	if !ok {
		return
	}
	history, err := s.store.GetAllSnapshots(r.Context(), id)
	if err != nil {
		s.storeError(w, "keyword_history", err)
		return
	}
	keywordID := chi.URLParam(r, "keyword_id")
	writeJSON(w, http.StatusOK, map[string]any{
		"keywordId": keywordID,
		"history":   tracker.KeywordHistory(history, keywordID),
	})
}

func validStatus(status tracker.ProjectStatus) bool {
	switch status {
	case "", tracker.ProjectStatusDraft, tracker.ProjectStatusActive, tracker.ProjectStatusPaused:
		return true
	}
	return false
}
