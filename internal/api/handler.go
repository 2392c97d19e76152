package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/fiscal/internal/classifier"
	"github.com/opensource-finance/fiscal/internal/domain"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	svc     *classifier.Service
	async   bool
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, svc *classifier.Service, opts Options) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		svc:     svc,
		async:   opts.Async,
		version: opts.Version,
	}
}

// TransactionResponse is the response for POST /transactions.
type TransactionResponse struct {
	TxID       string             `json:"txId"`
	Status     string             `json:"status"`
	Evaluation *domain.Evaluation `json:"evaluation,omitempty"`
	Metadata   struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Ingest statuses.
const (
	StatusClassified = "classified"
	StatusQueued     = "queued"
)

// CreateTransaction handles POST /transactions: the transaction is stored and
// classified inline, or queued for the workers in async mode.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.TransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Description) == "" && req.CategoryID == "" {
		writeError(w, http.StatusBadRequest, "description or categoryId is required")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx := req.ToTransaction(tenantID)
	eval, err := h.svc.Ingest(ctx, tx, h.async)
	if err != nil {
		writeServiceError(w, r, "classification", err)
		return
	}

	resp := TransactionResponse{TxID: tx.ID, Evaluation: eval}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.Version = h.version

	status := http.StatusCreated
	resp.Status = StatusClassified
	if eval == nil {
		status = http.StatusAccepted
		resp.Status = StatusQueued
	}
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()

	writeJSON(w, status, resp)
}

// GetTransaction retrieves a transaction with its current classification.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tx, err := h.repo.GetTransaction(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "get transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ClassifyTransaction re-classifies one stored transaction against the
// current rules.
func (h *Handler) ClassifyTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eval, err := h.svc.Classify(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "classification", err)
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// BatchRequest is the request body for POST /classify/batch. Either TxIDs
// or Unclassified must be set.
type BatchRequest struct {
	TxIDs        []string `json:"txIds"`
	Unclassified bool     `json:"unclassified"`
	Limit        int      `json:"limit,omitempty"`
}

// ClassifyBatch re-classifies a set of transactions. Per-transaction
// failures are reported in the body with a 200 status.
func (h *Handler) ClassifyBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Unclassified && len(req.TxIDs) > 0 {
		writeError(w, http.StatusBadRequest, "txIds and unclassified are mutually exclusive")
		return
	}

	var report *domain.BatchReport
	var err error
	if req.Unclassified {
		report, err = h.svc.ClassifyUnclassified(ctx, tenantID, req.Limit)
	} else {
		report, err = h.svc.ClassifyBatch(ctx, tenantID, req.TxIDs)
	}
	if err != nil {
		writeServiceError(w, r, "batch classification", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// PreviewRequest is the request body for POST /classify/preview. When Rules
// is omitted the tenant's stored rules are used.
type PreviewRequest struct {
	Transaction domain.TransactionRequest `json:"transaction"`
	Rules       []domain.RuleForm         `json:"rules,omitempty"`
}

// Preview classifies a transaction without storing anything.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Transaction.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var defs []*domain.RuleDefinition
	if req.Rules != nil {
		defs = make([]*domain.RuleDefinition, 0, len(req.Rules))
		for i := range req.Rules {
			def, err := req.Rules[i].Parse()
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			defs = append(defs, def)
		}
	}

	tx := req.Transaction.ToTransaction(GetTenantID(ctx))
	if tx.ID == "" {
		tx.ID = "preview"
	}

	eval, err := h.svc.Preview(ctx, tx, defs)
	if err != nil {
		writeServiceError(w, r, "preview", err)
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// GetEvaluation retrieves an evaluation with its execution logs.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eval, err := h.repo.GetEvaluation(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "get evaluation", err)
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the database is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.repo.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}
