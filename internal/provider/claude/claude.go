package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/usage-governor/internal/provider"
)

const defaultMaxTokens = 4096

// thinking budgets in tokens per effort tier
var thinkingBudget = map[provider.Effort]int{
	provider.EffortLow:    1024,
	provider.EffortMedium: 4096,
	provider.EffortHigh:   16000,
}

type ClaudeProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	Thinking    *claudeThinking `json:"thinking,omitempty"`
}

type claudeThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string          `json:"id"`
	Content []claudeContent `json:"content"`
	Model   string          `json:"model"`
	Usage   claudeUsage     `json:"usage"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

var (
	costInput  = decimal.RequireFromString("0.0000008")
	costOutput = decimal.RequireFromString("0.000004")
)

func New(apiKey string) provider.Provider {
	return &ClaudeProvider{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
		client:  http.DefaultClient,
	}
}

func (p *ClaudeProvider) Invoke(ctx context.Context, cfg provider.Config, req *provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(p.mapRequest(cfg, req))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/messages", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		msg := string(respBody)
		var eb claudeErrorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Error.Message != "" {
			msg = fmt.Sprintf("%s: %s", eb.Error.Type, eb.Error.Message)
		}
		return nil, &provider.Error{Provider: p.Name(), StatusCode: resp.StatusCode, Message: msg}
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, &provider.Error{Provider: p.Name(), Message: fmt.Sprintf("decode response: %v", err)}
	}

	// Thinking blocks precede the answer; take the first text block.
	var text string
	for _, c := range claudeResp.Content {
		if c.Type == "text" && c.Text != "" {
			text = c.Text
			break
		}
	}
	if text == "" {
		return nil, &provider.Error{Provider: p.Name(), Message: "empty response: no text content"}
	}

	return &provider.Response{
		ID:           claudeResp.ID,
		Content:      text,
		InputTokens:  claudeResp.Usage.InputTokens,
		OutputTokens: claudeResp.Usage.OutputTokens,
		Model:        claudeResp.Model,
		Provider:     p.Name(),
	}, nil
}

func (p *ClaudeProvider) mapRequest(cfg provider.Config, req *provider.Request) claudeRequest {
	var system string
	var messages []claudeMessage

	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		messages = append(messages, claudeMessage{Role: role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	out := claudeRequest{
		Model:       cfg.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    messages,
		Temperature: req.Temperature,
	}

	if budget, ok := thinkingBudget[cfg.ReasoningEffort]; ok {
		// max_tokens must exceed the thinking budget; temperature must be unset.
		out.Thinking = &claudeThinking{Type: "enabled", BudgetTokens: budget}
		out.MaxTokens = maxTokens + budget
		out.Temperature = 0
	}

	return out
}

func (p *ClaudeProvider) Name() string {
	return "claude"
}

func (p *ClaudeProvider) CostPerInputToken() decimal.Decimal {
	return costInput
}

func (p *ClaudeProvider) CostPerOutputToken() decimal.Decimal {
	return costOutput
}
