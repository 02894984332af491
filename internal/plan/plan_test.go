package plan

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]ID{
		"standard":        Standard,
		"  Standard ":     Standard,
		"Pro Monthly":     Pro,
		"pro-yearly":      Pro,
		"Professional":    Pro,
		"enterprise":      Enterprise,
		"":                Free,
		"producer bundle": Free, // no substring matching
		"unknown":         Free,
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestLimitFor_Standard(t *testing.T) {
	l := LimitFor("standard", MetricAIText)
	assert.Equal(t, int64(400), l.MaxCount)
	assert.Nil(t, l.MaxCost)
	assert.True(t, l.DefaultCost.Equal(decimal.RequireFromString("0.002")))

	sms := LimitFor("Standard", MetricSMS)
	require.NotNil(t, sms.MaxCost)
	assert.Equal(t, "15", sms.MaxCost.String())
}

func TestLimitFor_Disabled(t *testing.T) {
	assert.True(t, LimitFor("free", MetricSMS).Disabled())
	assert.True(t, LimitFor("free", MetricAIImage).Disabled())
	assert.False(t, LimitFor("free", MetricAIText).Disabled())
	assert.True(t, LimitFor("pro", Metric("fax")).Disabled())
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("ai_image")
	require.NoError(t, err)
	assert.True(t, m.IsAI())

	m, err = ParseMetric("sms")
	require.NoError(t, err)
	assert.False(t, m.IsAI())

	_, err = ParseMetric("voice")
	assert.Error(t, err)
}

func TestIsPremium(t *testing.T) {
	assert.True(t, Pro.IsPremium())
	assert.True(t, Enterprise.IsPremium())
	assert.False(t, Standard.IsPremium())
	assert.False(t, Free.IsPremium())
}
