// Package governance composes access gating, quota metering, response
// caching and provider fallback into the operations callers use.
package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-governor/internal/billing"
	"github.com/vnmchuo/usage-governor/internal/cache"
	"github.com/vnmchuo/usage-governor/internal/metrics"
	"github.com/vnmchuo/usage-governor/internal/plan"
	"github.com/vnmchuo/usage-governor/internal/provider"
	"github.com/vnmchuo/usage-governor/internal/quota"
	"github.com/vnmchuo/usage-governor/internal/router"
	"github.com/vnmchuo/usage-governor/internal/subscription"
)

// Generator runs a request down a fallback chain.
type Generator interface {
	Generate(ctx context.Context, req *provider.Request, attempts []router.Attempt) (*provider.Response, error)
}

type Deps struct {
	Gate     *subscription.Gate
	Ledger   *quota.Ledger
	Cache    *cache.Cache
	Router   Generator
	Planner  *ChainPlanner
	Registry *provider.Registry
	Billing  billing.Store
	Log      *zap.Logger
	Tracer   trace.Tracer
}

type Engine struct {
	gate     *subscription.Gate
	ledger   *quota.Ledger
	cache    *cache.Cache
	router   Generator
	planner  *ChainPlanner
	registry *provider.Registry
	billing  billing.Store
	log      *zap.Logger
	tracer   trace.Tracer

	pending sync.WaitGroup
}

func NewEngine(d Deps) *Engine {
	return &Engine{
		gate:     d.Gate,
		ledger:   d.Ledger,
		cache:    d.Cache,
		router:   d.Router,
		planner:  d.Planner,
		registry: d.Registry,
		billing:  d.Billing,
		log:      d.Log,
		tracer:   d.Tracer,
	}
}

// AreaFor returns the capability area that gates metric.
func AreaFor(metric plan.Metric) subscription.CapabilityArea {
	if metric == plan.MetricSMS {
		return subscription.AreaSMS
	}
	return subscription.AreaAI
}

// EnforceAccess returns *subscription.AccessDeniedError when the tenant's
// payment state blocks area.
func (e *Engine) EnforceAccess(ctx context.Context, tenantID string, area subscription.CapabilityArea) error {
	_, err := e.enforce(ctx, tenantID, area)
	return err
}

func (e *Engine) enforce(ctx context.Context, tenantID string, area subscription.CapabilityArea) (*subscription.Tenant, error) {
	t, err := e.gate.Enforce(ctx, tenantID, area)
	var denied *subscription.AccessDeniedError
	if errors.As(err, &denied) {
		metrics.Denials.WithLabelValues("access", denied.State.String()).Inc()
		e.log.Info("access denied",
			zap.String("tenant_id", tenantID),
			zap.String("state", denied.State.String()),
			zap.String("area", string(area)),
		)
	}
	return t, err
}

// CheckQuota reports the tenant's standing for metric. An empty planName uses
// the plan on the tenant record.
func (e *Engine) CheckQuota(ctx context.Context, tenantID string, metric plan.Metric, planName string) (quota.Decision, error) {
	if planName == "" {
		t, _, err := e.gate.State(ctx, tenantID)
		if err != nil {
			return quota.Decision{}, err
		}
		planName = t.Plan
	}
	d := e.ledger.Check(ctx, tenantID, metric, planName)
	if d.Degraded {
		metrics.LedgerEvents.WithLabelValues("check_fail_open", string(metric)).Inc()
	}
	return d, nil
}

type GenerationInput struct {
	TenantID string
	Metric   plan.Metric
	// Plan overrides the tenant record's plan when set.
	Plan string
	// Fingerprint identifies a repeatable request. Empty disables caching.
	Fingerprint string
	Request     *provider.Request
}

type Result struct {
	Response *provider.Response `json:"response"`
	Cached   bool               `json:"cached"`
	Usage    quota.Usage        `json:"usage"`
}

// RunGeneration gates, meters and executes a billable generation. A cached
// result for the same fingerprint is returned without spending quota.
func (e *Engine) RunGeneration(ctx context.Context, in GenerationInput) (*Result, error) {
	if !in.Metric.IsAI() {
		return nil, fmt.Errorf("metric %s is not a generation metric", in.Metric)
	}
	req := in.Request
	if req == nil {
		req = &provider.Request{}
	}
	req.TenantID = in.TenantID
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	ctx, span := e.tracer.Start(ctx, "governance.run_generation")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", in.TenantID),
		attribute.String("request_id", req.RequestID),
		attribute.String("metric", string(in.Metric)),
	)

	res, err := e.runGeneration(ctx, in, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (e *Engine) runGeneration(ctx context.Context, in GenerationInput, req *provider.Request) (*Result, error) {
	log := e.log.With(
		zap.String("tenant_id", in.TenantID),
		zap.String("request_id", req.RequestID),
		zap.String("metric", string(in.Metric)),
	)

	t, err := e.enforce(ctx, in.TenantID, AreaFor(in.Metric))
	if err != nil {
		return nil, err
	}
	planName := in.Plan
	if planName == "" {
		planName = t.Plan
	}

	decision, err := e.CheckQuota(ctx, in.TenantID, in.Metric, planName)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		metrics.Denials.WithLabelValues("quota", string(in.Metric)).Inc()
		return nil, &quota.ExceededError{TenantID: in.TenantID, Metric: in.Metric, Decision: decision}
	}

	var key string
	if in.Fingerprint != "" {
		key = cache.Fingerprint(in.TenantID, string(in.Metric), in.Fingerprint)
		if resp, ok := e.lookup(ctx, log, key); ok {
			e.audit(req, in.Metric, resp, decimal.Zero, true)
			return &Result{Response: resp, Cached: true, Usage: decision.Usage}, nil
		}
	}

	resp, err := e.router.Generate(ctx, req, e.planner.Attempts(planName))
	if err != nil {
		log.Error("generation failed", zap.Error(err))
		return nil, err
	}

	if key != "" {
		e.store(ctx, log, key, resp)
	}

	limit := plan.LimitFor(planName, in.Metric)
	usage := decision.Usage
	consumed, err := e.ledger.Consume(ctx, in.TenantID, in.Metric, planName, 1, limit.DefaultCost)
	var exceeded *quota.ExceededError
	switch {
	case err == nil:
		usage = consumed.Usage
	case errors.As(err, &exceeded):
		// Lost the race against a concurrent request after the provider was
		// paid. The result stands; the ledger stays at its ceiling.
		metrics.LedgerEvents.WithLabelValues("race_overrun", string(in.Metric)).Inc()
		log.Warn("quota filled during generation, usage not recorded",
			zap.Int64("used", exceeded.Decision.Usage.Used),
			zap.Int64("limit", exceeded.Decision.Usage.Limit),
		)
		usage = exceeded.Decision.Usage
	default:
		metrics.LedgerEvents.WithLabelValues("increment_failed", string(in.Metric)).Inc()
		log.Error("usage not recorded after successful generation", zap.Error(err))
	}

	e.audit(req, in.Metric, resp, e.price(resp), false)

	return &Result{Response: resp, Usage: usage}, nil
}

// RecordUsage meters one unit of a non-generation metric, such as an SMS
// handed to the delivery provider.
func (e *Engine) RecordUsage(ctx context.Context, tenantID string, metric plan.Metric, requestID string) (quota.Decision, error) {
	t, err := e.enforce(ctx, tenantID, AreaFor(metric))
	if err != nil {
		return quota.Decision{}, err
	}

	limit := plan.LimitFor(t.Plan, metric)
	d, err := e.ledger.Consume(ctx, tenantID, metric, t.Plan, 1, limit.DefaultCost)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			metrics.Denials.WithLabelValues("quota", string(metric)).Inc()
		}
		return d, err
	}

	if requestID == "" {
		requestID = uuid.New().String()
	}
	e.logEvent(&billing.UsageEvent{
		TenantID:  tenantID,
		RequestID: requestID,
		Metric:    metric,
		CostUSD:   limit.DefaultCost,
	})
	return d, nil
}

func (e *Engine) lookup(ctx context.Context, log *zap.Logger, key string) (*provider.Response, bool) {
	entry, hit, err := e.cache.Lookup(ctx, key)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		log.Warn("response cache unavailable", zap.Error(err))
		return nil, false
	}
	if !hit {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	var resp provider.Response
	if err := json.Unmarshal(entry.Payload, &resp); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		log.Warn("discarding unreadable cache entry", zap.Error(err))
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return &resp, true
}

func (e *Engine) store(ctx context.Context, log *zap.Logger, key string, resp *provider.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Warn("response not cacheable", zap.Error(err))
		return
	}
	if err := e.cache.Store(ctx, key, payload); err != nil {
		log.Warn("response cache write failed", zap.Error(err))
	}
}

func (e *Engine) price(resp *provider.Response) decimal.Decimal {
	p, ok := e.registry.Get(resp.Provider)
	if !ok {
		return decimal.Zero
	}
	return provider.Cost(p, resp)
}

func (e *Engine) audit(req *provider.Request, metric plan.Metric, resp *provider.Response, cost decimal.Decimal, cached bool) {
	e.logEvent(&billing.UsageEvent{
		TenantID:     req.TenantID,
		RequestID:    req.RequestID,
		Metric:       metric,
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      cost,
		LatencyMs:    resp.LatencyMs,
		Cached:       cached,
	})
}

// logEvent writes the audit row off the request path.
func (e *Engine) logEvent(ev *billing.UsageEvent) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.billing.LogUsage(ctx, ev); err != nil {
			e.log.Warn("usage event not logged",
				zap.String("tenant_id", ev.TenantID),
				zap.String("request_id", ev.RequestID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until queued audit writes finish.
func (e *Engine) Wait() {
	e.pending.Wait()
}
