package governance

import (
	"time"

	"github.com/vnmchuo/usage-governor/config"
	"github.com/vnmchuo/usage-governor/internal/plan"
	"github.com/vnmchuo/usage-governor/internal/provider"
	"github.com/vnmchuo/usage-governor/internal/router"
)

// ChainPlanner turns the configured provider chain into per-plan attempts.
type ChainPlanner struct {
	links   []config.ChainLink
	timeout time.Duration
}

func NewChainPlanner(links []config.ChainLink, timeout time.Duration) *ChainPlanner {
	return &ChainPlanner{links: links, timeout: timeout}
}

// Attempts returns a fresh attempt list for planName. Premium plans run the
// primary model with low reasoning effort; fallbacks always use the default.
func (p *ChainPlanner) Attempts(planName string) []router.Attempt {
	premium := plan.Normalize(planName).IsPremium()

	attempts := make([]router.Attempt, 0, len(p.links))
	for i, l := range p.links {
		a := router.Attempt{
			Provider: l.Provider,
			Config:   provider.Config{Model: l.Model},
			Timeout:  p.timeout,
		}
		if i == 0 && premium {
			a.Config.ReasoningEffort = provider.EffortLow
		}
		attempts = append(attempts, a)
	}
	return attempts
}
