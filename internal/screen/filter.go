package screen

import "context"

// Screener is any message-classification function: it maps a message to an
// allow/deny decision plus a human-readable reason. The reason is empty when
// the message is allowed.
type Screener func(ctx context.Context, message string) (allowed bool, reason string)

// Filter is one stage of a screening chain. It implements the same
// allow/deny contract as a Screener and may be composed.
type Filter interface {
	Name() string
	Classify(ctx context.Context, message string) (allowed bool, reason string)
}
