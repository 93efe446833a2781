package screen

import "context"

// Chain composes an ordered list of filters into a single screener.
// Filters run in list order and the first denial wins: its reason becomes
// the chain's result and no later filter is invoked. Ordering cheap local
// filters ahead of a remote one bounds cost per rejected message.
type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

func (c *Chain) Len() int {
	return len(c.filters)
}

// Classify evaluates the chain. An empty chain allows everything.
func (c *Chain) Classify(ctx context.Context, message string) (bool, string) {
	for _, filter := range c.filters {
		allowed, reason := filter.Classify(ctx, message)
		if !allowed {
			return false, reason
		}
	}
	return true, ""
}

// Screener adapts the chain to the harness contract.
func (c *Chain) Screener() Screener {
	return func(ctx context.Context, message string) (bool, string) {
		return c.Classify(ctx, message)
	}
}
