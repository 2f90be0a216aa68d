package subscription

import (
	"fmt"
	"time"
)

// FailurePolicy selects what happens when the middleware rejects a loan
// return.
type FailurePolicy string

const (
	// FailurePolicyPanic treats a failed return as fatal: Close panics with
	// a *ReleaseError.
	FailurePolicyPanic FailurePolicy = "panic"
	// FailurePolicyPoison marks the endpoint unusable and reports the
	// *ReleaseError from Close. Further takes fail with ErrPoisoned.
	FailurePolicyPoison FailurePolicy = "poison"
)

// Config holds subscription initialization parameters.
type Config struct {
	Topic         string        `json:"topic,omitempty" toml:"topic"`
	Workers       int           `json:"workers,omitempty" toml:"workers"`
	QueueDepth    int           `json:"queue_depth,omitempty" toml:"queue_depth"`
	PollInterval  time.Duration `json:"poll_interval,omitempty" toml:"poll_interval"`
	FailurePolicy FailurePolicy `json:"failure_policy,omitempty" toml:"failure_policy"`
	Observer      string        `json:"observer,omitempty" toml:"observer"`
}

// DefaultConfig returns a single-worker configuration that treats release
// failures as fatal.
func DefaultConfig() Config {
	return Config{
		Workers:       1,
		QueueDepth:    8,
		PollInterval:  10 * time.Millisecond,
		FailurePolicy: FailurePolicyPanic,
		Observer:      "noop",
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Topic != "" {
		c.Topic = source.Topic
	}
	if source.Workers > 0 {
		c.Workers = source.Workers
	}
	if source.QueueDepth > 0 {
		c.QueueDepth = source.QueueDepth
	}
	if source.PollInterval > 0 {
		c.PollInterval = source.PollInterval
	}
	if source.FailurePolicy != "" {
		c.FailurePolicy = source.FailurePolicy
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

func (c *Config) validate() error {
	switch c.FailurePolicy {
	case FailurePolicyPanic, FailurePolicyPoison:
	default:
		return fmt.Errorf("unknown failure policy: %q", c.FailurePolicy)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %v", c.PollInterval)
	}
	return nil
}
