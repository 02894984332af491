package gemini

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

var thinkingBudget = map[provider.Effort]int{
	provider.EffortLow:    512,
	provider.EffortMedium: 4096,
	provider.EffortHigh:   16384,
}

type GeminiProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text    string `json:"text"`
	Thought bool   `json:"thought,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     float64         `json:"temperature,omitempty"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type geminiErrorBody struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

var (
	costInput  = decimal.RequireFromString("0.000000125")
	costOutput = decimal.RequireFromString("0.000000375")
)

func New(apiKey string) provider.Provider {
	return &GeminiProvider{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com",
		client:  http.DefaultClient,
	}
}

func (p *GeminiProvider) Invoke(ctx context.Context, cfg provider.Config, req *provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(p.mapRequest(cfg, req))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.baseURL, cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		msg := string(respBody)
		var eb geminiErrorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Error.Message != "" {
			msg = fmt.Sprintf("%s: %s", eb.Error.Status, eb.Error.Message)
		}
		return nil, &provider.Error{Provider: p.Name(), StatusCode: resp.StatusCode, Message: msg}
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, &provider.Error{Provider: p.Name(), Message: fmt.Sprintf("decode response: %v", err)}
	}

	text := firstAnswer(geminiResp)
	if text == "" {
		return nil, &provider.Error{Provider: p.Name(), Message: "empty response: no candidates"}
	}

	return &provider.Response{
		Content:      text,
		InputTokens:  geminiResp.UsageMetadata.PromptTokenCount,
		OutputTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
		Model:        cfg.Model,
		Provider:     p.Name(),
	}, nil
}

func firstAnswer(r geminiResponse) string {
	if len(r.Candidates) == 0 {
		return ""
	}
	for _, part := range r.Candidates[0].Content.Parts {
		if !part.Thought && part.Text != "" {
			return part.Text
		}
	}
	return ""
}

func (p *GeminiProvider) mapRequest(cfg provider.Config, req *provider.Request) geminiRequest {
	var system *geminiContent
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	gc := generationConfig{
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
	}
	if budget, ok := thinkingBudget[cfg.ReasoningEffort]; ok {
		gc.ThinkingConfig = &thinkingConfig{ThinkingBudget: budget}
	}

	return geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig:  gc,
	}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) CostPerInputToken() decimal.Decimal {
	return costInput
}

func (p *GeminiProvider) CostPerOutputToken() decimal.Decimal {
	return costOutput
}
