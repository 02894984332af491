package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/usage-governor/config"
)

func TestBuildRegistry(t *testing.T) {
	cfg := &config.Config{
		OpenAIAPIKey:    "sk-openai",
		AnthropicAPIKey: "sk-ant",
		GenerationChain: []config.ChainLink{
			{Provider: "openai", Model: "gpt-4o-mini"},
			{Provider: "claude", Model: "claude-3-5-haiku-20241022"},
		},
	}

	registry, err := buildRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "openai"}, registry.Names())
}

func TestBuildRegistry_ChainNamesMissingProvider(t *testing.T) {
	cfg := &config.Config{
		OpenAIAPIKey:    "sk-openai",
		GenerationChain: []config.ChainLink{{Provider: "gemini", Model: "gemini-2.0-flash"}},
	}

	_, err := buildRegistry(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"gemini"`)
}
