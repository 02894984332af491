// Package api exposes the governance engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-governor/internal/auth"
	"github.com/vnmchuo/usage-governor/internal/billing"
	"github.com/vnmchuo/usage-governor/internal/governance"
	"github.com/vnmchuo/usage-governor/internal/metrics"
	"github.com/vnmchuo/usage-governor/internal/plan"
	"github.com/vnmchuo/usage-governor/internal/provider"
	"github.com/vnmchuo/usage-governor/internal/quota"
	"github.com/vnmchuo/usage-governor/internal/subscription"
	"github.com/vnmchuo/usage-governor/pkg/ratelimit"
)

// Governor is the subset of *governance.Engine the handlers call.
type Governor interface {
	EnforceAccess(ctx context.Context, tenantID string, area subscription.CapabilityArea) error
	CheckQuota(ctx context.Context, tenantID string, metric plan.Metric, planName string) (quota.Decision, error)
	RunGeneration(ctx context.Context, in governance.GenerationInput) (*governance.Result, error)
	RecordUsage(ctx context.Context, tenantID string, metric plan.Metric, requestID string) (quota.Decision, error)
}

type Handler struct {
	gov     Governor
	billing billing.Store
	limiter *ratelimit.Limiter
	log     *zap.Logger
	tracer  trace.Tracer
}

func NewHandler(gov Governor, billing billing.Store, limiter *ratelimit.Limiter, log *zap.Logger, tracer trace.Tracer) *Handler {
	return &Handler{
		gov:     gov,
		billing: billing,
		limiter: limiter,
		log:     log,
		tracer:  tracer,
	}
}

type generateRequest struct {
	Fingerprint string             `json:"fingerprint"`
	Messages    []provider.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

func (h *Handler) HandleAccess(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	area, err := subscription.ParseArea(chi.URLParam(r, "area"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.gov.EnforceAccess(r.Context(), tenantID, area); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"area":    area,
		"allowed": true,
	})
}

func (h *Handler) HandleQuota(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	metric, err := plan.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.gov.CheckQuota(r.Context(), tenantID, metric, "")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body := map[string]interface{}{
		"metric":  metric,
		"allowed": d.Allowed,
		"usage":   d.Usage,
		"reason":  d.Reason,
	}
	// Burst status is informational; omit it when the limiter is unreachable.
	if burst, err := h.limiter.Status(r.Context(), tenantID); err != nil {
		h.log.Warn("rate limiter status unavailable", zap.String("tenant_id", tenantID), zap.Error(err))
	} else {
		body["burst_allowed"] = burst
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	requestID := requestIDFrom(ctx)

	metric, err := plan.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil || !metric.IsAI() {
		writeError(w, http.StatusBadRequest, "metric must be ai_text or ai_image")
		return
	}

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	ctx, span := h.tracer.Start(ctx, "api.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("request_id", requestID),
		attribute.String("metric", string(metric)),
	)

	if !h.allowBurst(ctx, w, tenantID) {
		return
	}

	res, err := h.gov.RunGeneration(ctx, governance.GenerationInput{
		TenantID:    tenantID,
		Metric:      metric,
		Fingerprint: body.Fingerprint,
		Request: &provider.Request{
			Messages:    body.Messages,
			MaxTokens:   body.MaxTokens,
			Temperature: body.Temperature,
			RequestID:   requestID,
		},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := res.Response
	respID := resp.ID
	if respID == "" {
		respID = requestID
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       respID,
		"object":   "chat.completion",
		"model":    resp.Model,
		"provider": resp.Provider,
		"cached":   res.Cached,
		"choices": []interface{}{
			map[string]interface{}{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": resp.Content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     resp.InputTokens,
			"completion_tokens": resp.OutputTokens,
			"total_tokens":      resp.InputTokens + resp.OutputTokens,
		},
		"quota": res.Usage,
	})
}

// HandleRecord meters one unit of a metric delivered outside this service.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	metric, err := plan.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.allowBurst(r.Context(), w, tenantID) {
		return
	}

	d, err := h.gov.RecordUsage(r.Context(), tenantID, metric, requestIDFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric": metric,
		"usage":  d.Usage,
	})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
		to = t
	}

	events, err := h.billing.GetUsageByTenant(ctx, tenantID, from, to)
	if err != nil {
		h.log.Error("usage events query failed", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	sum, err := h.billing.Summarize(ctx, tenantID, from, to)
	if err != nil {
		h.log.Error("usage summary query failed", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":      tenantID,
		"total_requests": sum.Requests,
		"cached_hits":    sum.CachedHits,
		"total_cost_usd": sum.TotalCostUSD,
		"events":         events,
		"from":           from,
		"to":             to,
	})
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := auth.GetTenantID(r.Context())
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return tenantID, true
}

func (h *Handler) allowBurst(ctx context.Context, w http.ResponseWriter, tenantID string) bool {
	allowed, err := h.limiter.Allow(ctx, tenantID)
	if err != nil {
		h.log.Warn("rate limiter unavailable", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if err != nil || !allowed {
		metrics.Denials.WithLabelValues("burst", "requests").Inc()
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return false
	}
	return true
}

// fail writes the user-facing form of err and logs the detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := governance.UserMessage(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("tenant_id", auth.GetTenantID(r.Context())),
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, msg)
}

func requestIDFrom(ctx context.Context) string {
	if id := auth.GetRequestID(ctx); id != "" {
		return id
	}
	return uuid.New().String()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
