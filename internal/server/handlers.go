package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/research"
)

// RunService is the orchestrator surface the API drives.
type RunService interface {
	CreateRun(ctx context.Context, clientID string, brief domain.Brief) (*domain.PipelineRun, error)
	GetRun(ctx context.Context, id string) (*domain.PipelineRun, error)
	ListRuns(ctx context.Context, opts ports.RunListOptions) ([]*domain.PipelineRun, error)
	Approve(ctx context.Context, runID string, stage domain.StageName) (*domain.PipelineRun, error)
	Reject(ctx context.Context, runID string, stage domain.StageName, reason string) (*domain.PipelineRun, error)
	Cancel(ctx context.Context, runID string) (*domain.PipelineRun, error)
}

// KnowledgeService accepts analytics and serves learned entries.
type KnowledgeService interface {
	OnPerformanceUpdate(ctx context.Context, contentID string, metrics domain.PerformanceMetrics) ([]*domain.KnowledgeEntry, error)
	List(ctx context.Context, opts ports.KnowledgeListOptions) ([]*domain.KnowledgeEntry, error)
}

// SourceInspector reads research sources and explains their scores.
type SourceInspector interface {
	Get(ctx context.Context, rawURL string) (*domain.ResearchSource, error)
	Explain(src *domain.ResearchSource) research.Breakdown
}

// API binds the pipeline services to HTTP routes.
type API struct {
	Runs      RunService
	Clients   ports.ClientStore
	Knowledge KnowledgeService
	Sources   SourceInspector
}

const (
	defaultRunLimit       = 10
	maxListLimit          = 200
	defaultKnowledgeLimit = 50
	maxBodyBytes          = 1 << 20
)

// Mount registers the API routes on r.
func (a *API) Mount(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/clients", a.handleSaveClient)
		r.Get("/clients/{client_id}", a.handleGetClient)
		r.Get("/clients/{client_id}/runs", a.handleListRuns)

		r.Post("/runs", a.handleCreateRun)
		r.Get("/runs/{run_id}", a.handleGetRun)
		r.Post("/runs/{run_id}/stages/{stage}/approve", a.handleApprove)
		r.Post("/runs/{run_id}/stages/{stage}/reject", a.handleReject)
		r.Post("/runs/{run_id}/cancel", a.handleCancel)

		r.Post("/performance", a.handlePerformance)
		r.Get("/knowledge", a.handleListKnowledge)
		r.Get("/sources/*", a.handleGetSource)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleSaveClient(w http.ResponseWriter, r *http.Request) {
	var profile domain.ClientProfile
	if err := decodeJSON(r, &profile); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(profile.ID) == "" {
		writeError(w, r, domain.ErrInvalidRequest("id is required"))
		return
	}
	if err := profile.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "client_id", profile.ID)

	if err := a.Clients.SaveProfile(r.Context(), &profile); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &profile)
}

func (a *API) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "client_id")
	profile, err := a.Clients.GetProfile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type runListResponse struct {
	Runs   []*domain.PipelineRun `json:"runs"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "client_id")
	limit, offset, err := pagination(r, defaultRunLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	runs, err := a.Runs.ListRuns(r.Context(), ports.RunListOptions{
		ClientID: clientID,
		Statuses: statuses,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*domain.PipelineRun{}
	}
	writeJSON(w, http.StatusOK, runListResponse{Runs: runs, Limit: limit, Offset: offset})
}

type createRunRequest struct {
	ClientID   string       `json:"client_id"`
	Brief      domain.Brief `json:"brief"`
	IncludeSEO bool         `json:"include_seo"`
}

func (a *API) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	brief := req.Brief
	brief.IncludeSEO = brief.IncludeSEO || req.IncludeSEO
	AddLogField(r.Context(), "client_id", req.ClientID)

	run, err := a.Runs.CreateRun(r.Context(), req.ClientID, brief)
	if err != nil {
		writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "run_id", run.ID)
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	writeJSON(w, http.StatusCreated, run)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	run, err := a.Runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, stage := runStage(r)
	run, err := a.Runs.Approve(r.Context(), id, stage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	id, stage := runStage(r)
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	run, err := a.Runs.Reject(r.Context(), id, stage, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	run, err := a.Runs.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type performanceRequest struct {
	ContentID string                    `json:"content_id"`
	Metrics   domain.PerformanceMetrics `json:"metrics"`
}

type knowledgeListResponse struct {
	Entries []*domain.KnowledgeEntry `json:"entries"`
}

func (a *API) handlePerformance(w http.ResponseWriter, r *http.Request) {
	var req performanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "run_id", req.ContentID)

	entries, err := a.Knowledge.OnPerformanceUpdate(r.Context(), req.ContentID, req.Metrics)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*domain.KnowledgeEntry{}
	}
	writeJSON(w, http.StatusOK, knowledgeListResponse{Entries: entries})
}

func (a *API) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _, err := pagination(r, defaultKnowledgeLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	opts := ports.KnowledgeListOptions{
		ClientID:      q.Get("client_id"),
		IncludeGlobal: q.Get("include_global") != "false",
		SourceRunID:   q.Get("run_id"),
		Limit:         limit,
	}
	if t := q.Get("type"); t != "" {
		for _, part := range strings.Split(t, ",") {
			opts.Types = append(opts.Types, domain.KnowledgeType(strings.TrimSpace(part)))
		}
	}
	AddLogField(r.Context(), "client_id", opts.ClientID)

	entries, err := a.Knowledge.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*domain.KnowledgeEntry{}
	}
	writeJSON(w, http.StatusOK, knowledgeListResponse{Entries: entries})
}

type sourceResponse struct {
	*domain.ResearchSource
	Breakdown research.Breakdown `json:"breakdown"`
}

func (a *API) handleGetSource(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || raw == "" {
		writeError(w, r, domain.ErrInvalidRequest("a source url is required"))
		return
	}
	src, err := a.Sources.Get(r.Context(), raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceResponse{ResearchSource: src, Breakdown: a.Sources.Explain(src)})
}

func runStage(r *http.Request) (string, domain.StageName) {
	id := chi.URLParam(r, "run_id")
	stage := domain.StageName(chi.URLParam(r, "stage"))
	return id, stage
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n <= 0 || n > maxListLimit {
			return 0, 0, domain.ErrInvalidRequest(fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, domain.ErrInvalidRequest("offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}

func parseStatuses(v string) ([]domain.RunStatus, error) {
	if v == "" {
		return nil, nil
	}
	var out []domain.RunStatus
	for _, part := range strings.Split(v, ",") {
		s := domain.RunStatus(strings.TrimSpace(part))
		switch s {
		case domain.RunStatusPending, domain.RunStatusRunning, domain.RunStatusCompleted,
			domain.RunStatusFailed, domain.RunStatusCancelled:
			out = append(out, s)
		default:
			return nil, domain.ErrInvalidRequest(fmt.Sprintf("unknown status %q", part))
		}
	}
	return out, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ErrInvalidRequest("request body is required")
		}
		return domain.ErrInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

type errorResponse struct {
	Error *domain.APIError `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	apiErr := domain.ToAPIError(err)
	writeJSON(w, apiErr.HTTPStatusCode(), errorResponse{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
