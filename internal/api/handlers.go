package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/profile-service/internal/legacy"
	"github.com/sells-group/profile-service/internal/merge"
	"github.com/sells-group/profile-service/internal/model"
	"github.com/sells-group/profile-service/internal/profilestore"
	"github.com/sells-group/profile-service/internal/scheduler"
)

const maxRequestBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.refresh.HealthCheck(r.Context())
	if err != nil {
		s.serverError(w, "health check", err)
		return
	}
	status := http.StatusOK
	if report.Status == scheduler.HealthDegraded {
		status = http.StatusServiceUnavailable
	}
	s.respond(w, status, report)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	includeStale := r.URL.Query().Get("include_stale") == "true"

	profile, err := s.profiles.GetProfile(r.Context(), key, includeStale)
	if err != nil {
		s.serverError(w, "get profile", err)
		return
	}
	if profile == nil {
		s.respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	s.respond(w, http.StatusOK, profile)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, page, err := parseListParams(q)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var result *profilestore.QueryResult
	if text := strings.TrimSpace(q.Get("q")); text != "" {
		result, err = s.profiles.Search(r.Context(), text, filter, page)
	} else {
		result, err = s.profiles.Query(r.Context(), filter, page)
	}
	if err != nil {
		s.serverError(w, "list profiles", err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	kind := model.SourceKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		s.respondError(w, http.StatusBadRequest, "unknown source kind")
		return
	}

	var update model.SourceUpdate
	if err := decodeJSON(r, &update); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	update.Kind = kind

	profile, err := s.profiles.UpdateFromSource(r.Context(), key, update)
	if err != nil {
		if merge.IsValidation(err) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.serverError(w, "update source", err)
		return
	}
	s.respond(w, http.StatusOK, profile)
}

func (s *Server) handleGenerateInsights(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	update, err := s.fetch.Fetch(r.Context(), key, model.SourceInsights)
	if err != nil {
		s.serverError(w, "generate insights", err)
		return
	}
	if update == nil {
		s.respondError(w, http.StatusUnprocessableEntity,
			"insights unavailable: profile is missing or has no financial data")
		return
	}

	profile, err := s.profiles.UpdateFromSource(r.Context(), key, *update)
	if err != nil {
		s.serverError(w, "store insights", err)
		return
	}
	s.respond(w, http.StatusOK, profile)
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"running":  s.refresh.Running(),
		"last_run": s.refresh.LastRun(),
		"failed":   s.refresh.FailedRefreshes(),
	})
}

func (s *Server) handleRefreshRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.refresh.RunScheduledRefresh(r.Context())
	if err != nil {
		s.serverError(w, "run refresh", err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleRefreshForce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityKeys  []string `json:"entity_keys"`
		Sources     []string `json:"sources"`
		MaxProfiles int      `json:"max_profiles"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	opts := scheduler.ForceOptions{EntityKeys: req.EntityKeys, MaxProfiles: req.MaxProfiles}
	for _, raw := range req.Sources {
		kind := model.SourceKind(raw)
		if !kind.Valid() {
			s.respondError(w, http.StatusBadRequest, "unknown source kind: "+raw)
			return
		}
		opts.Sources = append(opts.Sources, kind)
	}

	result, err := s.refresh.ForceRefresh(r.Context(), opts)
	if err != nil {
		s.serverError(w, "force refresh", err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleGetContractor(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	profile, err := s.profiles.GetProfile(r.Context(), key, true)
	if err != nil {
		s.serverError(w, "get contractor", err)
		return
	}
	if profile == nil {
		s.respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	s.respond(w, http.StatusOK, legacy.ProjectContractor(profile))
}

// parseListParams maps query parameters onto the store's filter and page
// types. Unknown sort fields are passed through; the store ignores them.
func parseListParams(q map[string][]string) (profilestore.Filter, profilestore.Page, error) {
	var f profilestore.Filter
	var p profilestore.Page

	get := func(key string) string {
		if vals := q[key]; len(vals) > 0 {
			return vals[0]
		}
		return ""
	}

	f.Industries = q["industry"]
	f.SizeTiers = q["size_tier"]
	for _, raw := range q["require_source"] {
		kind := model.SourceKind(raw)
		if !kind.Valid() {
			return f, p, errors.New("unknown source kind: " + raw)
		}
		f.RequireSources = append(f.RequireSources, kind)
	}
	if v := get("min_performance"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, p, errors.New("min_performance must be a number")
		}
		f.MinPerformance = &n
	}
	if v := get("max_performance"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, p, errors.New("max_performance must be a number")
		}
		f.MaxPerformance = &n
	}
	if v := get("min_completeness"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, p, errors.New("min_completeness must be an integer")
		}
		f.MinCompleteness = n
	}
	if v := get("max_age_hours"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, p, errors.New("max_age_hours must be a number")
		}
		f.MaxAge = time.Duration(n * float64(time.Hour))
	}

	if v := get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, p, errors.New("limit must be a non-negative integer")
		}
		p.Limit = n
	}
	if v := get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, p, errors.New("offset must be a non-negative integer")
		}
		p.Offset = n
	}
	p.SortBy = get("sort_by")
	p.SortOrder = get("sort_order")

	return f, p, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op+" failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, "internal error")
}
