package openai

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

type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type openAIRequest struct {
	Model           string          `json:"model"`
	Messages        []openAIMessage `json:"messages"`
	MaxTokens       int             `json:"max_completion_tokens,omitempty"`
	Temperature     float64         `json:"temperature,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

var (
	costInput  = decimal.RequireFromString("0.00000015")
	costOutput = decimal.RequireFromString("0.0000006")
)

func New(apiKey string) provider.Provider {
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		client:  http.DefaultClient,
	}
}

func (p *OpenAIProvider) Invoke(ctx context.Context, cfg provider.Config, req *provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(p.mapRequest(cfg, req))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		msg := string(respBody)
		var eb openAIErrorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Error.Message != "" {
			msg = fmt.Sprintf("%s: %s", eb.Error.Type, eb.Error.Message)
		}
		return nil, &provider.Error{Provider: p.Name(), StatusCode: resp.StatusCode, Message: msg}
	}

	var openAIResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openAIResp); err != nil {
		return nil, &provider.Error{Provider: p.Name(), Message: fmt.Sprintf("decode response: %v", err)}
	}

	if len(openAIResp.Choices) == 0 || openAIResp.Choices[0].Message.Content == "" {
		return nil, &provider.Error{Provider: p.Name(), Message: "empty response: no choices"}
	}

	return &provider.Response{
		ID:           openAIResp.ID,
		Content:      openAIResp.Choices[0].Message.Content,
		InputTokens:  openAIResp.Usage.PromptTokens,
		OutputTokens: openAIResp.Usage.CompletionTokens,
		Model:        openAIResp.Model,
		Provider:     p.Name(),
	}, nil
}

func (p *OpenAIProvider) mapRequest(cfg provider.Config, req *provider.Request) openAIRequest {
	messages := make([]openAIMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}

	out := openAIRequest{
		Model:           cfg.Model,
		Messages:        messages,
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: string(cfg.ReasoningEffort),
	}
	// Reasoning models reject a non-default temperature.
	if cfg.ReasoningEffort == provider.EffortDefault {
		out.Temperature = req.Temperature
	}
	return out
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) CostPerInputToken() decimal.Decimal {
	return costInput
}

func (p *OpenAIProvider) CostPerOutputToken() decimal.Decimal {
	return costOutput
}
