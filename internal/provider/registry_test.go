package provider

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ name string }

func (s *stubProvider) Invoke(ctx context.Context, cfg Config, req *Request) (*Response, error) {
	return &Response{Content: "ok", Provider: s.name, Model: cfg.Model, InputTokens: 1000, OutputTokens: 500}, nil
}
func (s *stubProvider) Name() string                        { return s.name }
func (s *stubProvider) CostPerInputToken() decimal.Decimal  { return decimal.RequireFromString("0.000001") }
func (s *stubProvider) CostPerOutputToken() decimal.Decimal { return decimal.RequireFromString("0.000004") }

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(&stubProvider{name: "openai"}, &stubProvider{name: "claude"})
	require.NoError(t, err)

	p, ok := r.Get("claude")
	require.True(t, ok)
	assert.Equal(t, "claude", p.Name())

	_, ok = r.Get("mistral")
	assert.False(t, ok)
	assert.Equal(t, []string{"claude", "openai"}, r.Names())
}

func TestRegistry_Duplicate(t *testing.T) {
	_, err := NewRegistry(&stubProvider{name: "openai"}, &stubProvider{name: "openai"})
	assert.Error(t, err)
}

func TestCost(t *testing.T) {
	p := &stubProvider{name: "openai"}
	resp, _ := p.Invoke(context.Background(), Config{}, &Request{})
	// 1000 * 0.000001 + 500 * 0.000004
	assert.Equal(t, "0.003", Cost(p, resp).String())
}
