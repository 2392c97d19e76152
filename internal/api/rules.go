package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/fiscal/internal/domain"
	"github.com/opensource-finance/fiscal/internal/rulefile"
)

// RuleListResponse is the response for GET /rules.
type RuleListResponse struct {
	Rules []*domain.RuleDefinition `json:"rules"`
	Count int                      `json:"count"`
}

func ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "rule id must be a positive integer")
		return 0, false
	}
	return id, true
}

// ListRules returns the tenant's rules in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	active, err := queryBool(r, "active")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := domain.RuleFilter{
		RuleType:   r.URL.Query().Get("ruleType"),
		ActiveOnly: active != nil && *active,
	}

	defs, err := h.repo.ListRules(ctx, GetTenantID(ctx), filter)
	if err != nil {
		writeServiceError(w, r, "list rules", err)
		return
	}
	if defs == nil {
		defs = []*domain.RuleDefinition{}
	}

	writeJSON(w, http.StatusOK, RuleListResponse{Rules: defs, Count: len(defs)})
}

// GetRule retrieves a rule by id.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	def, err := h.repo.GetRule(ctx, GetTenantID(ctx), id)
	if err != nil {
		writeServiceError(w, r, "get rule", err)
		return
	}

	writeJSON(w, http.StatusOK, def)
}

// CreateRule parses a rule form and stores the rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var form domain.RuleForm
	if !decodeJSON(w, r, &form) {
		return
	}
	def, err := form.Parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.CreateRule(ctx, GetTenantID(ctx), def); err != nil {
		writeServiceError(w, r, "create rule", err)
		return
	}

	writeJSON(w, http.StatusCreated, def)
}

// UpdateRule replaces a rule with the submitted form.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var form domain.RuleForm
	if !decodeJSON(w, r, &form) {
		return
	}
	def, err := form.Parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	def.ID = id

	if err := h.svc.UpdateRule(ctx, GetTenantID(ctx), def); err != nil {
		writeServiceError(w, r, "update rule", err)
		return
	}

	writeJSON(w, http.StatusOK, def)
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if err := h.svc.DeleteRule(ctx, GetTenantID(ctx), id); err != nil {
		writeServiceError(w, r, "delete rule", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ImportRules stores every rule of a YAML rule file, or none of them.
func (h *Handler) ImportRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defs, err := rulefile.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.svc.ImportRules(ctx, GetTenantID(ctx), defs)
	if err != nil {
		writeServiceError(w, r, "import rules", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int{
		"imported": created,
	})
}

// ExportRules returns the tenant's rules as a YAML rule file.
func (h *Handler) ExportRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defs, err := h.repo.ListRules(ctx, GetTenantID(ctx), domain.RuleFilter{
		RuleType: r.URL.Query().Get("ruleType"),
	})
	if err != nil {
		writeServiceError(w, r, "export rules", err)
		return
	}

	data, err := rulefile.Marshal(defs)
	if err != nil {
		writeServiceError(w, r, "export rules", err)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
