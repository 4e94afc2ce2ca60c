package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"supplychain-orchestrator/internal/bus"
	"supplychain-orchestrator/internal/config"
	"supplychain-orchestrator/internal/decision"
	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/ratelimit"
	"supplychain-orchestrator/internal/store"
	"supplychain-orchestrator/internal/telemetry"
)

// DeadLetters is the read side of the dead-letter stream.
type DeadLetters interface {
	DLQPeek(ctx context.Context, count int64) ([]bus.DeadLetter, error)
}

// Server wires HTTP handlers for the approval UI.
type Server struct {
	cfg       config.Config
	store     store.Store
	decisions *decision.Service
	dlq       DeadLetters
	limiter   *ratelimit.TokenBucket
}

// New constructs the API server. A nil limiter disables rate limiting.
func New(cfg config.Config, st store.Store, svc *decision.Service, dlq DeadLetters, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		decisions: svc,
		dlq:       dlq,
		limiter:   limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/decisions", s.handleListDecisions)
	r.Get("/decisions/{id}", s.handleGetDecision)
	r.Post("/decisions/{id}/approve", s.handleDecide(models.StatusApproved))
	r.Post("/decisions/{id}/reject", s.handleDecide(models.StatusRejected))
	r.Get("/decisions/{id}/audit", s.handleAudit)
	r.Get("/notifications", s.handleNotifications)
	r.Get("/dlq", s.handleDLQ)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListDecisions returns the approval queue. Pending items come best first.
func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.Status(q.Get("status"))
	if status == "" {
		status = models.StatusPending
	}
	items, err := s.store.ListDecisions(r.Context(), store.DecisionFilter{
		WorkspaceID:       s.cfg.WorkspaceID,
		Statuses:          []models.Status{status},
		RelatedObjectType: q.Get("object_type"),
		RelatedObjectID:   q.Get("object_id"),
		OrderByPriority:   status == models.StatusPending,
		Limit:             queryInt(q.Get("limit"), 100),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []models.DecisionItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetDecision(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type decideRequest struct {
	Actor     string `json:"actor"`
	Rationale string `json:"rationale"`
}

func (s *Server) handleDecide(to models.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Actor == "" {
			req.Actor = r.Header.Get("X-Actor-ID")
		}
		if s.limiter != nil {
			res, err := s.limiter.Allow(r.Context(), req.Actor)
			if err != nil {
				http.Error(w, "rate limit error", http.StatusInternalServerError)
				return
			}
			if !res.Allowed {
				telemetry.RateLimitRejects.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
		}

		id := chi.URLParam(r, "id")
		var (
			item models.DecisionItem
			err  error
		)
		if to == models.StatusApproved {
			item, err = s.decisions.Approve(r.Context(), id, req.Actor, req.Rationale)
		} else {
			item, err = s.decisions.Reject(r.Context(), id, req.Actor, req.Rationale)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetDecision(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.store.ListAudit(r.Context(), "decision_item", id)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListNotifications(r.Context(), s.cfg.WorkspaceID, queryInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleDLQ returns the most recent dead-lettered entries.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.dlq.DLQPeek(r.Context(), int64(queryInt(r.URL.Query().Get("count"), 100)))
	if err != nil {
		http.Error(w, "failed to read dlq", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []bus.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func queryInt(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, decision.ErrNotPending):
		code = http.StatusConflict
	case errors.Is(err, decision.ErrMissingActor):
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
