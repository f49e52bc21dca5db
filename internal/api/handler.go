package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Checker runs and retrieves fraud checks.
type Checker interface {
	CheckFraud(ctx context.Context, fc *domain.FraudContext) (*domain.CheckResult, error)
	GetCheck(ctx context.Context, tenantID, checkID string) (*domain.CheckResult, error)
}

// RuleValidator checks a rule definition before it is stored.
type RuleValidator interface {
	Validate(rule *domain.RuleDefinition) error
}

// RuleCache drops cached active rule sets.
type RuleCache interface {
	Invalidate(tenantID string)
}

// ReputationAdmin manages blocklist and allowlist entries.
type ReputationAdmin interface {
	Add(ctx context.Context, tenantID string, entry *domain.ReputationEntry) error
	Remove(ctx context.Context, tenantID string, kind domain.ReputationKind, value string, list domain.ReputationList) error
	List(ctx context.Context, tenantID string, kind domain.ReputationKind) ([]*domain.ReputationEntry, error)
}

// Deps are the collaborators the handlers use. Cache and Bus are only
// pinged by the health endpoints and may be nil.
type Deps struct {
	Checker    Checker
	Repo       domain.Repository
	Validator  RuleValidator
	RuleCache  RuleCache
	Reputation ReputationAdmin
	Cache      domain.Cache
	Bus        domain.EventBus
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps    Deps
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	return &Handler{deps: deps, version: version}
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// CreateCheck handles POST /checks.
func (h *Handler) CreateCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var fc domain.FraudContext
	if err := json.NewDecoder(r.Body).Decode(&fc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	// The header tenant always wins over the body.
	fc.TenantID = GetTenantID(ctx)

	res, err := h.deps.Checker.CheckFraud(ctx, &fc)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  domain.ErrInvalidContext.Error(),
				"fields": verr.Fields,
			})
			return
		}
		slog.Error("fraud check failed", "tenant_id", fc.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "fraud check failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// GetCheck handles GET /checks/{id}.
func (h *Handler) GetCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkID := chi.URLParam(r, "id")

	res, err := h.deps.Checker.GetCheck(ctx, GetTenantID(ctx), checkID)
	if errors.Is(err, engine.ErrCheckNotFound) {
		writeError(w, http.StatusNotFound, "check not found")
		return
	}
	if err != nil {
		slog.Error("failed to get check", "check_id", checkID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load check")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ListAudit handles GET /audit.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := domain.AuditFilter{
		SubjectID: q.Get("subject"),
		Result:    domain.AuditResult(strings.ToUpper(q.Get("result"))),
	}
	if filter.Result != "" && filter.Result != domain.AuditPass && filter.Result != domain.AuditFail {
		writeError(w, http.StatusBadRequest, "result must be PASS or FAIL")
		return
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	filter.Limit = limit

	records, err := h.deps.Repo.ListAudit(ctx, GetTenantID(ctx), filter)
	if err != nil {
		slog.Error("failed to list audit records", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list audit records")
		return
	}
	if records == nil {
		records = []*domain.AuditRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// ListAlerts handles GET /alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	alerts, err := h.deps.Repo.ListAlerts(ctx, GetTenantID(ctx), limit)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*domain.AlertRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ListRules returns the tenant's rules and the global rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	list, err := h.deps.Repo.ListRules(ctx, GetTenantID(ctx), enabledOnly)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	if list == nil {
		list = []*domain.RuleDefinition{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	rule, err := h.deps.Repo.GetRule(ctx, GetTenantID(ctx), ruleID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.Error("failed to get rule", "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rule")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and stores a new rule for the request tenant.
// Use X-Tenant-ID "*" to author a global rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rule domain.RuleDefinition
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	} else {
		// GetRule also sees global rules, so a tenant cannot shadow one.
		_, err := h.deps.Repo.GetRule(ctx, tenantID, rule.ID)
		switch {
		case err == nil:
			writeError(w, http.StatusConflict, "rule already exists")
			return
		case !errors.Is(err, repository.ErrNotFound):
			slog.Error("failed to check rule id", "rule_id", rule.ID, "tenant_id", tenantID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load rule")
			return
		}
	}
	rule.TenantID = tenantID
	rule.Version = "1"

	if !h.saveRule(w, r, &rule) {
		return
	}

	slog.Info("rule created", "rule_id", rule.ID, "tenant_id", tenantID, "category", rule.Category)
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule replaces a rule owned by the request tenant.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	existing, err := h.deps.Repo.GetRule(ctx, tenantID, ruleID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && existing.TenantID != tenantID) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.Error("failed to get rule", "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rule")
		return
	}

	var rule domain.RuleDefinition
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	rule.ID = ruleID
	rule.TenantID = tenantID
	rule.CreatedAt = existing.CreatedAt
	rule.Version = nextVersion(existing.Version)

	if !h.saveRule(w, r, &rule) {
		return
	}

	slog.Info("rule updated", "rule_id", rule.ID, "tenant_id", tenantID, "version", rule.Version)
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) saveRule(w http.ResponseWriter, r *http.Request, rule *domain.RuleDefinition) bool {
	if err := h.deps.Validator.Validate(rule); err != nil {
		if errors.Is(err, domain.ErrInvalidRule) {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		slog.Error("rule validation failed", "rule_id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "rule validation failed")
		return false
	}

	if err := h.deps.Repo.SaveRule(r.Context(), rule.TenantID, rule); err != nil {
		slog.Error("failed to save rule", "rule_id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return false
	}
	h.invalidateRules(rule.TenantID)
	return true
}

// DeleteRule disables a rule owned by the request tenant.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	err := h.deps.Repo.DeleteRule(ctx, tenantID, ruleID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.Error("failed to delete rule", "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	h.invalidateRules(tenantID)

	slog.Info("rule disabled", "rule_id", ruleID, "tenant_id", tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules drops the cached rule set so the next check reads the
// repository again.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	h.invalidateRules(tenantID)

	slog.Info("rule cache invalidated", "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rules reloaded",
	})
}

func (h *Handler) invalidateRules(tenantID string) {
	if h.deps.RuleCache != nil {
		h.deps.RuleCache.Invalidate(tenantID)
	}
}

func nextVersion(v string) string {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return "2"
	}
	return strconv.Itoa(n + 1)
}

// ListReputation handles GET /reputation?kind=ip|email.
func (h *Handler) ListReputation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := domain.ReputationKind(strings.ToLower(r.URL.Query().Get("kind")))
	if kind != domain.ReputationIP && kind != domain.ReputationEmail {
		writeError(w, http.StatusBadRequest, "kind must be ip or email")
		return
	}

	entries, err := h.deps.Reputation.List(ctx, GetTenantID(ctx), kind)
	if err != nil {
		slog.Error("failed to list reputation entries", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reputation entries")
		return
	}
	if entries == nil {
		entries = []*domain.ReputationEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// AddReputation handles POST /reputation.
func (h *Handler) AddReputation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var entry domain.ReputationEntry
	if !decodeRecord(w, r, &entry) {
		return
	}
	entry.TenantID = GetTenantID(ctx)

	if err := h.deps.Reputation.Add(ctx, entry.TenantID, &entry); err != nil {
		writeStoreError(w, "failed to save reputation entry", err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// RemoveReputation handles DELETE /reputation with a kind/value/list body.
func (h *Handler) RemoveReputation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var entry domain.ReputationEntry
	if !decodeRecord(w, r, &entry) {
		return
	}

	err := h.deps.Reputation.Remove(ctx, GetTenantID(ctx), entry.Kind, entry.Value, entry.List)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "reputation entry not found")
		return
	}
	if err != nil {
		writeStoreError(w, "failed to remove reputation entry", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RecordOrder handles POST /history/orders.
func (h *Handler) RecordOrder(w http.ResponseWriter, r *http.Request) {
	var rec domain.OrderRecord
	if !decodeRecord(w, r, &rec) {
		return
	}
	rec.TenantID = GetTenantID(r.Context())
	if err := h.deps.Repo.SaveOrder(r.Context(), rec.TenantID, &rec); err != nil {
		writeStoreError(w, "failed to record order", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// RecordPayment handles POST /history/payments.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var rec domain.PaymentAttempt
	if !decodeRecord(w, r, &rec) {
		return
	}
	rec.TenantID = GetTenantID(r.Context())
	if err := h.deps.Repo.SavePaymentAttempt(r.Context(), rec.TenantID, &rec); err != nil {
		writeStoreError(w, "failed to record payment attempt", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// RecordAccountEvent handles POST /history/account-events.
func (h *Handler) RecordAccountEvent(w http.ResponseWriter, r *http.Request) {
	var rec domain.AccountEvent
	if !decodeRecord(w, r, &rec) {
		return
	}
	rec.TenantID = GetTenantID(r.Context())
	if err := h.deps.Repo.SaveAccountEvent(r.Context(), rec.TenantID, &rec); err != nil {
		writeStoreError(w, "failed to record account event", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			slog.Warn("health check failed", "component", name, "error", err)
			components[name] = "down"
			status = "degraded"
			return
		}
		components[name] = "up"
	}

	if h.deps.Repo != nil {
		check("repository", h.deps.Repo.Ping)
	}
	if h.deps.Cache != nil {
		check("cache", h.deps.Cache.Ping)
	}
	if h.deps.Bus != nil {
		check("eventBus", h.deps.Bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready reports whether the repository is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo != nil {
		if err := h.deps.Repo.Ping(r.Context()); err != nil {
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

func decodeRecord(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := domain.ValidateRecord(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultPageSize, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxPageSize), true
}

// writeStoreError maps input errors to 400 and the rest to 500.
func writeStoreError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, repository.ErrInvalidInput) || errors.Is(err, domain.ErrInvalidRecord) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
