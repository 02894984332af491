// Package plan holds the static per-plan usage limits.
package plan

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ID is a normalized plan identifier.
type ID string

const (
	Free       ID = "free"
	Standard   ID = "standard"
	Pro        ID = "pro"
	Enterprise ID = "enterprise"
)

// Metric is a billable operation category.
type Metric string

const (
	MetricAIText  Metric = "ai_text"
	MetricAIImage Metric = "ai_image"
	MetricSMS     Metric = "sms"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricAIText, MetricAIImage, MetricSMS:
		return m, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// IsAI reports whether the metric is served by generation providers.
func (m Metric) IsAI() bool {
	return m == MetricAIText || m == MetricAIImage
}

// Limit is the monthly ceiling for one metric. MaxCost is optional; when set
// both ceilings must have headroom.
type Limit struct {
	MaxCount    int64
	MaxCost     *decimal.Decimal
	DefaultCost decimal.Decimal
}

// Disabled reports whether the metric is unavailable on the plan.
func (l Limit) Disabled() bool {
	return l.MaxCount <= 0
}

var aliases = map[string]ID{
	"free":             Free,
	"trial":            Free,
	"starter":          Free,
	"standard":         Standard,
	"basic":            Standard,
	"standard_monthly": Standard,
	"standard_yearly":  Standard,
	"pro":              Pro,
	"professional":     Pro,
	"pro_monthly":      Pro,
	"pro_yearly":       Pro,
	"enterprise":       Enterprise,
	"business":         Enterprise,
}

// Normalize maps a free-text plan label to a plan ID. Unknown labels resolve
// to Free.
func Normalize(name string) ID {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if id, ok := aliases[key]; ok {
		return id
	}
	return Free
}

// IsPremium reports whether the plan gets the premium generation chain.
func (id ID) IsPremium() bool {
	return id == Pro || id == Enterprise
}

func money(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

var (
	costAIText  = decimal.RequireFromString("0.002")
	costAIImage = decimal.RequireFromString("0.04")
	costSMS     = decimal.RequireFromString("0.0075")
)

var limits = map[ID]map[Metric]Limit{
	Free: {
		MetricAIText:  {MaxCount: 20, DefaultCost: costAIText},
		MetricAIImage: {MaxCount: 0, DefaultCost: costAIImage},
		MetricSMS:     {MaxCount: 0, DefaultCost: costSMS},
	},
	Standard: {
		MetricAIText:  {MaxCount: 400, DefaultCost: costAIText},
		MetricAIImage: {MaxCount: 50, MaxCost: money("5.00"), DefaultCost: costAIImage},
		MetricSMS:     {MaxCount: 200, MaxCost: money("15.00"), DefaultCost: costSMS},
	},
	Pro: {
		MetricAIText:  {MaxCount: 2000, DefaultCost: costAIText},
		MetricAIImage: {MaxCount: 300, MaxCost: money("30.00"), DefaultCost: costAIImage},
		MetricSMS:     {MaxCount: 1000, MaxCost: money("75.00"), DefaultCost: costSMS},
	},
	Enterprise: {
		MetricAIText:  {MaxCount: 10000, DefaultCost: costAIText},
		MetricAIImage: {MaxCount: 1500, MaxCost: money("150.00"), DefaultCost: costAIImage},
		MetricSMS:     {MaxCount: 5000, MaxCost: money("350.00"), DefaultCost: costSMS},
	},
}

// LimitFor returns the limit of metric on the plan labelled name. Unknown
// metrics are disabled.
func LimitFor(name string, metric Metric) Limit {
	return limits[Normalize(name)][metric]
}
