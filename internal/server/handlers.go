package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/visiscope/visiscope/pkg/audit"
	"github.com/visiscope/visiscope/pkg/mentions"
	"github.com/visiscope/visiscope/pkg/quickscore"
	"github.com/visiscope/visiscope/pkg/robots"
	"github.com/visiscope/visiscope/pkg/storage"
	"github.com/visiscope/visiscope/pkg/visibility"
)

// maxRobotsBody matches the probe's body cap.
const maxRobotsBody = 2 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.LeadListOptions{
		HotOnly:             q.Get("hot") == "true",
		IncludeUndetermined: q.Get("include_undetermined") == "true",
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		opts.Limit = n
	}

	leads, err := s.DB.ListLeads(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, leads)
}

func (s *Server) handleLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.DB.GetLead(r.Context(), r.PathValue("domain"))
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.DeleteLead(r.Context(), r.PathValue("domain")); err != nil {
		s.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ScanRequest struct {
	Site string `json:"site"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.Prober == nil {
		writeError(w, http.StatusNotImplemented, errors.New("scanning is not enabled on this server"))
		return
	}
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result := s.Prober.Scan(r.Context(), req.Site)
	if msg, bad := result.Errors["site"]; bad {
		writeError(w, http.StatusBadRequest, errors.New(msg))
		return
	}
	lead, err := storage.LeadFromScan(result)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.DB.UpsertLead(r.Context(), lead); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// Read back so the response carries first_seen_at and missing signals.
	stored, err := s.DB.GetLead(r.Context(), lead.Domain)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleAudits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	audits, err := s.DB.ListAudits(r.Context(), q.Get("domain"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, audits)
}

type AuditDetail struct {
	storage.AuditRecord
	Queries []audit.QueryReport `json:"queries"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("audit id must be an integer"))
		return
	}
	rec, err := s.DB.GetAudit(r.Context(), id)
	if err != nil {
		s.storageError(w, err)
		return
	}
	queries, err := s.DB.GetAuditQueries(r.Context(), id)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuditDetail{AuditRecord: rec, Queries: queries})
}

func (s *Server) storageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

// handleRobots takes the raw robots.txt as the request body.
func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRobotsBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, robots.Analyze(string(body)))
}

type QuickScoreResponse struct {
	Score        quickscore.Score `json:"score"`
	Undetermined bool             `json:"undetermined"`
	Missing      []string         `json:"missing"`
}

func (s *Server) handleQuickScore(w http.ResponseWriter, r *http.Request) {
	var signals quickscore.Signals
	if err := json.NewDecoder(r.Body).Decode(&signals); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	score := quickscore.Calculate(signals)
	missing := signals.Missing()
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, QuickScoreResponse{Score: score, Undetermined: !score.Determined(), Missing: missing})
}

type AggregateRequest struct {
	Query   string                  `json:"query"`
	Results []mentions.EngineResult `json:"results"`
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	var req AggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	agg, err := mentions.Aggregate(req.Query, req.Results)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

type VisibilityRequest struct {
	OnSite     visibility.OnSiteSignals      `json:"on_site"`
	OffSite    visibility.OffSiteQualitative `json:"off_site"`
	Aggregates []mentions.QueryAggregate     `json:"aggregates"`
}

type VisibilityResponse struct {
	visibility.Score
	OnSitePercent  int `json:"on_site_percent"`
	OffSitePercent int `json:"off_site_percent"`
	TotalPercent   int `json:"total_percent"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.OnSite.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.OffSite.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	score := visibility.Compute(req.OnSite, req.OffSite, req.Aggregates)
	writeJSON(w, http.StatusOK, VisibilityResponse{
		Score:          score,
		OnSitePercent:  visibility.Percent(score.OnSite, visibility.HalfMax),
		OffSitePercent: visibility.Percent(score.OffSite, visibility.HalfMax),
		TotalPercent:   visibility.Percent(score.Total, visibility.Max),
	})
}
