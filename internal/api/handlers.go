package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/vnmchuo/agent-metering/internal/billing"
	"github.com/vnmchuo/agent-metering/internal/identity"
	"github.com/vnmchuo/agent-metering/internal/metering"
	"github.com/vnmchuo/agent-metering/internal/pricing"
	"github.com/vnmchuo/agent-metering/internal/report"
	"github.com/vnmchuo/agent-metering/pkg/ratelimit"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// minorToMajor converts stored minor currency units to API major units.
// Conversion happens only at this boundary.
func minorToMajor(minor int64) float64 {
	return float64(minor) / 100
}

type Handler struct {
	svc      *metering.Service
	reports  *report.Aggregator
	limiter  *ratelimit.Limiter
	tracer   trace.Tracer
	currency string
}

func NewHandler(svc *metering.Service, reports *report.Aggregator, limiter *ratelimit.Limiter, tracer trace.Tracer, currency string) *Handler {
	return &Handler{
		svc:      svc,
		reports:  reports,
		limiter:  limiter,
		tracer:   tracer,
		currency: currency,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleRecordUsage is POST /v1/usage. One ledger row, one quota increment,
// possibly one notification; success carries no payload beyond the ack.
func (h *Handler) HandleRecordUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := identity.GetBusinessID(ctx)
	if businessID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	allowed, err := h.limiter.Allow(ctx, businessID)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req metering.RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, span := h.tracer.Start(ctx, "usage.record")
	defer span.End()
	span.SetAttributes(
		attribute.String("business_id", businessID),
		attribute.String("agent_id", req.AgentID),
		attribute.String("usage_unit", req.UsageUnit),
		attribute.Float64("usage_amount", req.UsageAmount),
	)

	if err := h.svc.Record(ctx, businessID, &req); err != nil {
		var verr *metering.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, pricing.ErrInstallationNotFound):
			writeError(w, http.StatusNotFound, "no active installation for agent")
		default:
			log.Printf("api: failed to record usage for business %s: %v", businessID, err)
			writeError(w, http.StatusInternalServerError, "failed to record usage")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type estimateRequest struct {
	AgentID        string                   `json:"agent_id"`
	ProjectedUsage []billing.ProjectedUsage `json:"projected_usage"`
}

// HandleEstimate is POST /v1/usage/estimate. Read-only simulation.
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := identity.GetBusinessID(ctx)
	if businessID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	calc, err := h.svc.Estimate(ctx, businessID, req.AgentID, req.ProjectedUsage)
	if err != nil {
		var verr *metering.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, pricing.ErrInstallationNotFound):
			writeError(w, http.StatusNotFound, "no active installation for agent")
		default:
			log.Printf("api: estimate failed for business %s: %v", businessID, err)
			writeError(w, http.StatusInternalServerError, "failed to estimate cost")
		}
		return
	}

	breakdown := make([]map[string]any, 0, len(calc.Breakdown))
	for _, line := range calc.Breakdown {
		breakdown = append(breakdown, map[string]any{
			"unit":   line.Unit,
			"amount": line.Amount,
			"rate":   minorToMajor(line.Rate),
			"cost":   minorToMajor(line.CostMinor),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"base_cost":           minorToMajor(calc.BaseMinor),
		"free_tier_deduction": minorToMajor(calc.FreeTierMinor),
		"final_cost":          minorToMajor(calc.FinalMinor),
		"currency":            h.currency,
		"breakdown":           breakdown,
	})
}

// HandleSummary is GET /v1/usage/summary?period=YYYY-MM-DD.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := identity.GetBusinessID(ctx)
	if businessID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	period := h.reports.CurrentPeriod()
	if key := r.URL.Query().Get("period"); key != "" {
		var err error
		period, err = billing.ParsePeriodKey(key)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'period' (use YYYY-MM-DD)")
			return
		}
	}

	summaries, totalMinor, err := h.reports.Summary(ctx, businessID, period)
	if err != nil {
		log.Printf("api: summary failed for business %s: %v", businessID, err)
		writeError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}

	items := make([]map[string]any, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, map[string]any{
			"agent_id":        s.AgentID,
			"installation_id": s.InstallationID,
			"pricing_model":   s.PricingModel,
			"usage_by_unit":   s.UsageByUnit,
			"total_cost":      minorToMajor(s.CostMinor),
			"events":          s.Events,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"business_id": businessID,
		"period":      period.Key(),
		"currency":    h.currency,
		"total_cost":  minorToMajor(totalMinor),
		"agents":      items,
	})
}

// HandleAnalytics is GET /v1/usage/analytics?days=N&agent_id=.
func (h *Handler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := identity.GetBusinessID(ctx)
	if businessID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 || n > 365 {
			writeError(w, http.StatusBadRequest, "invalid 'days' (1-365)")
			return
		}
		days = n
	}

	rollup, err := h.reports.Analytics(ctx, businessID, r.URL.Query().Get("agent_id"), days)
	if err != nil {
		log.Printf("api: analytics failed for business %s: %v", businessID, err)
		writeError(w, http.StatusInternalServerError, "failed to build analytics")
		return
	}

	items := make([]map[string]any, 0, len(rollup))
	for _, d := range rollup {
		items = append(items, map[string]any{
			"day":    d.Day.Format("2006-01-02"),
			"unit":   d.Unit,
			"amount": d.Amount,
			"cost":   minorToMajor(d.CostMinor),
			"events": d.Events,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"business_id": businessID,
		"days":        days,
		"currency":    h.currency,
		"usage":       items,
	})
}

// HandleQuotas is GET /v1/quotas?agent_id=. Remaining and percentage are
// derived here, never read from storage.
func (h *Handler) HandleQuotas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := identity.GetBusinessID(ctx)
	if businessID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	quotas, err := h.reports.Quotas(ctx, businessID, r.URL.Query().Get("agent_id"))
	if err != nil {
		log.Printf("api: quotas failed for business %s: %v", businessID, err)
		writeError(w, http.StatusInternalServerError, "failed to read quotas")
		return
	}

	items := make([]map[string]any, 0, len(quotas))
	for _, q := range quotas {
		items = append(items, map[string]any{
			"agent_id":         q.AgentID,
			"quota_type":       q.QuotaType,
			"usage_unit":       q.UsageUnit,
			"quota_limit":      q.Limit,
			"quota_used":       q.Used,
			"quota_remaining":  q.Remaining(),
			"usage_percentage": q.PercentUsedRounded(),
			"period_start":     q.PeriodStart.Format("2006-01-02"),
			"period_end":       q.PeriodEnd.Format("2006-01-02"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"business_id": businessID,
		"quotas":      items,
	})
}

// HandleNotifications is GET /v1/notifications?limit=&unread=.
func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := identity.GetBusinessID(ctx)
	if businessID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "invalid 'limit' (1-200)")
			return
		}
		limit = n
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	notifications, unread, err := h.reports.Notifications(ctx, businessID, limit, unreadOnly)
	if err != nil {
		log.Printf("api: notifications failed for business %s: %v", businessID, err)
		writeError(w, http.StatusInternalServerError, "failed to read notifications")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"business_id":   businessID,
		"unread_count":  unread,
		"notifications": notifications,
	})
}
