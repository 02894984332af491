// Package router runs a generation request down an ordered chain of
// provider/model attempts until one succeeds.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-governor/internal/metrics"
	"github.com/vnmchuo/usage-governor/internal/provider"
)

// Attempt is one step of a fallback chain.
type Attempt struct {
	Provider string
	Config   provider.Config
	Timeout  time.Duration
}

func (a Attempt) String() string {
	return fmt.Sprintf("%s/%s", a.Provider, a.Config.Model)
}

var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// Failure is a retryable error recorded against one attempt.
type Failure struct {
	Attempt Attempt
	Err     error
}

type ExhaustedError struct {
	Failures []Failure
	Last     error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Attempt, f.Err))
	}
	return fmt.Sprintf("all providers exhausted after %d attempts [%s]", len(e.Failures), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrAllProvidersExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Last }

// FatalError stops the chain. Later attempts would fail the same way.
type FatalError struct {
	Attempt Attempt
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("generation failed on %s: %v", e.Attempt, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

type Router struct {
	registry *provider.Registry
	breakers map[string]*gobreaker.CircuitBreaker
	log      *zap.Logger
	tracer   trace.Tracer
}

func NewRouter(registry *provider.Registry, log *zap.Logger, tracer trace.Tracer) *Router {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, name := range registry.Names() {
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			// Fatal errors describe the request, not provider health.
			IsSuccessful: func(err error) bool {
				return err == nil || !provider.IsRetryable(err)
			},
		}
		breakers[name] = gobreaker.NewCircuitBreaker(settings)
	}
	return &Router{
		registry: registry,
		breakers: breakers,
		log:      log,
		tracer:   tracer,
	}
}

// Generate tries attempts in order. It returns the first success, a
// *FatalError on the first non-retryable failure, or an *ExhaustedError when
// every attempt failed retryably.
func (r *Router) Generate(ctx context.Context, req *provider.Request, attempts []Attempt) (*provider.Response, error) {
	if len(attempts) == 0 {
		return nil, &ExhaustedError{}
	}

	var failures []Failure
	var last error
	for i, a := range attempts {
		if err := ctx.Err(); err != nil {
			if len(failures) == 0 {
				return nil, &FatalError{Attempt: a, Err: err}
			}
			break
		}

		resp, err := r.invoke(ctx, req, a)
		if err == nil {
			if i > 0 {
				r.log.Info("generation served by fallback",
					zap.String("request_id", req.RequestID),
					zap.String("attempt", a.String()),
					zap.Int("position", i),
				)
			}
			return resp, nil
		}

		if !isRetryable(err) {
			metrics.ProviderAttempts.WithLabelValues(a.Provider, "fatal").Inc()
			r.log.Warn("generation attempt failed fatally",
				zap.String("request_id", req.RequestID),
				zap.String("attempt", a.String()),
				zap.Error(err),
			)
			return nil, &FatalError{Attempt: a, Err: err}
		}

		metrics.ProviderAttempts.WithLabelValues(a.Provider, "retryable").Inc()
		r.log.Warn("generation attempt failed, falling back",
			zap.String("request_id", req.RequestID),
			zap.String("attempt", a.String()),
			zap.Error(err),
		)
		failures = append(failures, Failure{Attempt: a, Err: err})
		last = err
	}

	return nil, &ExhaustedError{Failures: failures, Last: last}
}

func (r *Router) invoke(ctx context.Context, req *provider.Request, a Attempt) (*provider.Response, error) {
	p, ok := r.registry.Get(a.Provider)
	if !ok {
		return nil, errUnknownProvider{name: a.Provider}
	}
	cb := r.breakers[a.Provider]

	ctx, span := r.tracer.Start(ctx, "router.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", a.Provider),
		attribute.String("model", a.Config.Model),
		attribute.String("reasoning_effort", string(a.Config.ReasoningEffort)),
		attribute.String("request_id", req.RequestID),
	)

	attemptCtx := ctx
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		result, err := cb.Execute(func() (interface{}, error) {
			resp, err := p.Invoke(attemptCtx, a.Config, req)
			if err == nil && resp == nil {
				err = &provider.Error{Provider: a.Provider, Message: "empty response"}
			}
			return resp, err
		})
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-attemptCtx.Done():
		// The provider goroutine finishes on its own and its send is buffered.
		out = outcome{err: attemptCtx.Err()}
	}
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		return nil, out.err
	}

	resp := out.result.(*provider.Response)
	resp.LatencyMs = time.Since(start).Milliseconds()
	if resp.Provider == "" {
		resp.Provider = a.Provider
	}
	if resp.Model == "" {
		resp.Model = a.Config.Model
	}
	metrics.ProviderAttempts.WithLabelValues(a.Provider, "success").Inc()
	span.SetAttributes(
		attribute.Int("input_tokens", resp.InputTokens),
		attribute.Int("output_tokens", resp.OutputTokens),
		attribute.Int64("latency_ms", resp.LatencyMs),
	)
	return resp, nil
}

type outcome struct {
	result interface{}
	err    error
}

type errUnknownProvider struct{ name string }

func (e errUnknownProvider) Error() string {
	return fmt.Sprintf("provider %q is not registered", e.name)
}

// isRetryable extends provider classification with breaker rejections.
func isRetryable(err error) bool {
	var unknown errUnknownProvider
	if errors.As(err, &unknown) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return provider.IsRetryable(err)
}
