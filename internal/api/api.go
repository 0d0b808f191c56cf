// Package api exposes brief generation over HTTP. Creation is asynchronous:
// POST /briefs/create returns 202 with a request ID, generation runs in the
// background, and GET /briefs/status/{request_id} reports progress and, once
// completed, the report itself.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/abelbrown/briefs/internal/brief"
	"github.com/abelbrown/briefs/internal/logging"
	"github.com/abelbrown/briefs/internal/metrics"
	"github.com/abelbrown/briefs/internal/model"
	"github.com/abelbrown/briefs/internal/otel"
	"github.com/abelbrown/briefs/internal/store"
)

// Generator produces a brief for a validated request. Satisfied by
// *brief.Service.
type Generator interface {
	GenerateBrief(ctx context.Context, req brief.Request, rec *metrics.Recorder, progress brief.Progress) (*brief.Report, error)
}

// Server routes brief requests to the generator and persists run state.
type Server struct {
	store     *store.Store
	generator Generator
	tracer    *otel.Logger
	events    *otel.RingBuffer
}

// NewServer assembles the HTTP layer. tracer and events may be nil.
func NewServer(st *store.Store, gen Generator, tracer *otel.Logger, events *otel.RingBuffer) *Server {
	return &Server{
		store:     st,
		generator: gen,
		tracer:    tracer,
		events:    events,
	}
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/briefs/create", s.handleCreateBrief)
	r.Get("/briefs/status/{requestID}", s.handleStatus)
	r.Get("/debug/events", s.handleDebugEvents)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreationRequest is the POST /briefs/create payload. Companies accepts
// either a JSON string (a watchlist ID) or a JSON array of entity IDs.
type CreationRequest struct {
	Companies       json.RawMessage `json:"companies"`
	ReportStartDate time.Time       `json:"report_start_date"`
	ReportEndDate   time.Time       `json:"report_end_date"`
	Novelty         *bool           `json:"novelty"`
	Sources         []string        `json:"sources"`
	Topics          []string        `json:"topics"`
	SourceRankBoost *int            `json:"source_rank_boost"`
	FreshnessBoost  *int            `json:"freshness_boost"`
}

// AcceptedResponse acknowledges a queued brief.
type AcceptedResponse struct {
	RequestID string       `json:"request_id"`
	Status    store.Status `json:"status"`
}

// StatusResponse reports the current state of a run. Report is present only
// once the run has completed.
type StatusResponse struct {
	RequestID   string          `json:"request_id"`
	LastUpdated time.Time       `json:"last_updated"`
	Status      store.Status    `json:"status"`
	Logs        []string        `json:"logs"`
	Report      json.RawMessage `json:"report,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateBrief(w http.ResponseWriter, r *http.Request) {
	var payload CreationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	req, err := buildRequest(payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	requestID := uuid.New()
	if err := s.store.CreateRun(r.Context(), requestID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	go s.runBrief(requestID, req)

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		RequestID: requestID.String(),
		Status:    store.StatusQueued,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request ID"})
		return
	}

	run, err := s.store.GetRun(r.Context(), requestID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "request ID not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := StatusResponse{
		RequestID:   requestID.String(),
		LastUpdated: run.LastUpdated,
		Status:      run.Status,
		Logs:        run.Logs,
	}
	if run.Status == store.StatusCompleted {
		saved, err := s.store.GetReport(r.Context(), requestID)
		if err == nil {
			resp.Report = saved.Report
		} else if !errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDebugEvents returns the most recent observability events from the
// in-memory ring buffer.
func (s *Server) handleDebugEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "event tracing not enabled"})
		return
	}
	n := s.events.Len()
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	recent := s.events.Last(n)
	if kind := r.URL.Query().Get("kind"); kind != "" {
		recent = s.events.LastKind(otel.EventKind(kind), n)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": recent,
		"stats":  s.events.Stats(),
	})
}

// buildRequest validates the payload and maps it to a pipeline request.
func buildRequest(payload CreationRequest) (brief.Request, error) {
	var req brief.Request

	if len(payload.Companies) == 0 {
		return req, fmt.Errorf("companies is required")
	}
	var watchlistID string
	if err := json.Unmarshal(payload.Companies, &watchlistID); err == nil {
		req.WatchlistID = watchlistID
	} else if err := json.Unmarshal(payload.Companies, &req.EntityIDs); err != nil {
		return req, fmt.Errorf("companies must be a watchlist ID or a list of entity IDs")
	}

	if payload.ReportStartDate.IsZero() || payload.ReportEndDate.IsZero() {
		return req, fmt.Errorf("report_start_date and report_end_date are required")
	}
	if payload.ReportEndDate.Before(payload.ReportStartDate) {
		return req, fmt.Errorf("report_end_date must not precede report_start_date")
	}

	novelty := true
	if payload.Novelty != nil {
		novelty = *payload.Novelty
	}
	req.Dates = model.ReportDates{
		DateRange: model.DateRange{Start: payload.ReportStartDate, End: payload.ReportEndDate},
		Novelty:   novelty,
	}

	req.Sources = payload.Sources
	req.Topics = payload.Topics
	if payload.SourceRankBoost != nil {
		if *payload.SourceRankBoost < 0 || *payload.SourceRankBoost > 10 {
			return req, fmt.Errorf("source_rank_boost must be within [0, 10]")
		}
		req.SourceBoost = *payload.SourceRankBoost
	}
	if payload.FreshnessBoost != nil {
		if *payload.FreshnessBoost < 0 || *payload.FreshnessBoost > 10 {
			return req, fmt.Errorf("freshness_boost must be within [0, 10]")
		}
		req.FreshnessBoost = *payload.FreshnessBoost
	}
	return req, nil
}

// runBrief executes generation in the background, feeding the run's
// append-only log and final status. Uses a fresh context: the HTTP request
// that queued the run is long gone by the time generation finishes.
func (s *Server) runBrief(requestID uuid.UUID, req brief.Request) {
	ctx := context.Background()
	rec := metrics.NewRecorder()
	started := time.Now()

	s.tracer.Emit(otel.Event{
		Kind:      otel.KindWorkflowStart,
		Comp:      "api",
		RequestID: requestID.String(),
		Watchlist: req.WatchlistID,
		Count:     len(req.EntityIDs),
	})

	if err := s.store.UpdateStatus(ctx, requestID, store.StatusInProgress); err != nil {
		logging.Error("Cannot mark run in progress", "request_id", requestID, "error", err)
		return
	}
	progress := brief.Progress(func(message string) {
		if err := s.store.AppendLog(ctx, requestID, message); err != nil {
			logging.Warn("Cannot append run log", "request_id", requestID, "error", err)
		}
	})

	rep, err := s.generator.GenerateBrief(ctx, req, rec, progress)
	if err != nil {
		logging.Error("Brief generation failed", "request_id", requestID, "error", err)
		s.tracer.Emit(otel.Event{
			Kind:      otel.KindWorkflowFailed,
			Level:     otel.LevelError,
			Comp:      "api",
			RequestID: requestID.String(),
			Dur:       time.Since(started),
			Err:       err.Error(),
		})
		progress(fmt.Sprintf("Generation failed: %v", err))
		if err := s.store.UpdateStatus(ctx, requestID, store.StatusFailed); err != nil {
			logging.Error("Cannot mark run failed", "request_id", requestID, "error", err)
		}
		return
	}

	progress("Storing output report")
	if err := s.persistReport(ctx, requestID, req, rep); err != nil {
		logging.Error("Cannot persist report", "request_id", requestID, "error", err)
		if err := s.store.UpdateStatus(ctx, requestID, store.StatusFailed); err != nil {
			logging.Error("Cannot mark run failed", "request_id", requestID, "error", err)
		}
		return
	}
	if err := s.store.UpdateStatus(ctx, requestID, store.StatusCompleted); err != nil {
		logging.Error("Cannot mark run completed", "request_id", requestID, "error", err)
		return
	}

	usage := rec.LLMTotal()
	s.tracer.Emit(otel.Event{
		Kind:      otel.KindWorkflowComplete,
		Comp:      "api",
		RequestID: requestID.String(),
		Watchlist: rep.WatchlistID,
		Dur:       time.Since(started),
		Count:     len(rep.EntityReports),
		Tokens:    usage.PromptTokens + usage.CompletionTokens,
	})
}

func (s *Server) persistReport(ctx context.Context, requestID uuid.UUID, req brief.Request, rep *brief.Report) error {
	output := NewBriefReport(rep, req.Dates.DateRange)
	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	sources, err := json.Marshal(rep.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	return s.store.SaveReport(ctx, store.SavedReport{
		RequestID:   requestID,
		WatchlistID: rep.WatchlistID,
		IsEmpty:     rep.IsEmpty(),
		PeriodStart: req.Dates.Start,
		PeriodEnd:   req.Dates.End,
		Novelty:     rep.Novelty,
		Report:      raw,
		Sources:     sources,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn("Cannot encode response", "error", err)
	}
}
