package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/usage-governor/internal/provider"
)

func newTestProvider(url string) *GeminiProvider {
	return &GeminiProvider{apiKey: "test-key", baseURL: url, client: http.DefaultClient}
}

func TestInvoke_Mock(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{Content: geminiContent{Parts: []geminiPart{{Text: "Hello from mock!"}}}},
			},
			UsageMetadata: geminiUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 20},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	req := &provider.Request{
		Messages: []provider.Message{
			{Role: "system", Content: "Be brief."},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	}
	resp, err := newTestProvider(server.URL).Invoke(context.Background(), provider.Config{Model: "gemini-2.0-flash"}, req)
	require.NoError(t, err)

	assert.Equal(t, "Hello from mock!", resp.Content)
	assert.Equal(t, 10, resp.InputTokens)
	assert.Equal(t, 20, resp.OutputTokens)
	assert.Equal(t, "gemini-2.0-flash", resp.Model)

	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "Be brief.", captured.SystemInstruction.Parts[0].Text)
	require.Len(t, captured.Contents, 2)
	assert.Equal(t, "model", captured.Contents[1].Role)
	assert.Nil(t, captured.GenerationConfig.ThinkingConfig)
}

func TestInvoke_ThinkingSkipsThoughtParts(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_ = json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{
				{Text: "let me think", Thought: true},
				{Text: "final"},
			}}}},
		})
	}))
	defer server.Close()

	resp, err := newTestProvider(server.URL).Invoke(context.Background(),
		provider.Config{Model: "gemini-2.5-flash", ReasoningEffort: provider.EffortLow},
		&provider.Request{Messages: []provider.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)

	assert.Equal(t, "final", resp.Content)
	require.NotNil(t, captured.GenerationConfig.ThinkingConfig)
	assert.Equal(t, 512, captured.GenerationConfig.ThinkingConfig.ThinkingBudget)
}

func TestInvoke_NoCandidatesIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(geminiResponse{})
	}))
	defer server.Close()

	_, err := newTestProvider(server.URL).Invoke(context.Background(), provider.Config{Model: "gemini-2.0-flash"}, &provider.Request{})
	require.Error(t, err)
	assert.True(t, provider.IsRetryable(err))
}

func TestInvoke_ResourceExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded"}}`))
	}))
	defer server.Close()

	_, err := newTestProvider(server.URL).Invoke(context.Background(), provider.Config{Model: "gemini-2.0-flash"}, &provider.Request{})

	var pe *provider.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "RESOURCE_EXHAUSTED: Quota exceeded", pe.Message)
	assert.True(t, provider.IsRetryable(err))
}

func TestName(t *testing.T) {
	assert.Equal(t, "gemini", New("key").Name())
}
