package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/fiscal/internal/domain"
)

// ListLogs returns rule execution logs, newest first.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	ruleID, _, err := queryInt(r, "ruleId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := h.repo.ListExecutionLogs(ctx, GetTenantID(ctx), domain.LogFilter{
		EntityID:     q.Get("entityId"),
		RuleID:       ruleID,
		EvaluationID: q.Get("evaluationId"),
		Limit:        int(limit),
	})
	if err != nil {
		writeServiceError(w, r, "list logs", err)
		return
	}
	if logs == nil {
		logs = []*domain.RuleExecutionLog{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}

// ListSuggestions returns compliance suggestions, errors first.
func (h *Handler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	resolved, err := queryBool(r, "resolved")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := domain.SuggestionFilter{
		Resolved:       resolved,
		SuggestionType: q.Get("type"),
		EntityID:       q.Get("entityId"),
		Limit:          int(limit),
	}
	if raw := q.Get("severity"); raw != "" {
		severity, ok := domain.ParseSeverity(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "severity must be error, warning or info")
			return
		}
		filter.Severity = severity
	}

	suggestions, err := h.repo.ListSuggestions(ctx, GetTenantID(ctx), filter)
	if err != nil {
		writeServiceError(w, r, "list suggestions", err)
		return
	}
	if suggestions == nil {
		suggestions = []*domain.ComplianceSuggestion{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

// ResolveSuggestion marks a suggestion as handled.
func (h *Handler) ResolveSuggestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.repo.ResolveSuggestion(ctx, GetTenantID(ctx), id); err != nil {
		writeServiceError(w, r, "resolve suggestion", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"resolved": true,
	})
}
