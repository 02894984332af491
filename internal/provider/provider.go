package provider

import (
	"context"

	"github.com/shopspring/decimal"
)

type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// Metadata for logging and tracing
	TenantID  string
	RequestID string
}

type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Effort is the reasoning/thinking tier requested from a model. The zero
// value leaves the provider default in place.
type Effort string

const (
	EffortDefault Effort = ""
	EffortLow     Effort = "low"
	EffortMedium  Effort = "medium"
	EffortHigh    Effort = "high"
)

// Config is the per-attempt generation configuration.
type Config struct {
	Model           string
	ReasoningEffort Effort
}

type Response struct {
	ID           string `json:"id,omitempty"`
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	LatencyMs    int64  `json:"latency_ms"`
}

type Provider interface {
	Invoke(ctx context.Context, cfg Config, req *Request) (*Response, error)
	Name() string
	CostPerInputToken() decimal.Decimal // USD per token
	CostPerOutputToken() decimal.Decimal
}

// Cost prices a response with p's token rates.
func Cost(p Provider, resp *Response) decimal.Decimal {
	in := p.CostPerInputToken().Mul(decimal.NewFromInt(int64(resp.InputTokens)))
	out := p.CostPerOutputToken().Mul(decimal.NewFromInt(int64(resp.OutputTokens)))
	return in.Add(out)
}
