package middleware

import "log/slog"

// Config defines configuration for a Domain and the endpoints it creates.
type Config struct {
	// Domain identity
	Name string `json:"name,omitempty" toml:"name"`

	// Buffer allocation
	Allocator string `json:"allocator,omitempty" toml:"allocator"`

	// Per-endpoint limits
	QueueDepth int `json:"queue_depth,omitempty" toml:"queue_depth"`
	MaxLoans   int `json:"max_loans,omitempty" toml:"max_loans"`

	// ContextAffine declares that endpoint calls must stay on the goroutine
	// that took the loan. Views from such endpoints are never transferable.
	ContextAffine bool `json:"context_affine,omitempty" toml:"context_affine"`

	// Observability
	Logger *slog.Logger `json:"-" toml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:       "default",
		Allocator:  AllocatorMemguard,
		QueueDepth: 16,
		MaxLoans:   64,
		Logger:     slog.Default(),
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Name != "" {
		c.Name = source.Name
	}

	if source.Allocator != "" {
		c.Allocator = source.Allocator
	}

	if source.QueueDepth > 0 {
		c.QueueDepth = source.QueueDepth
	}

	if source.MaxLoans > 0 {
		c.MaxLoans = source.MaxLoans
	}

	if source.ContextAffine {
		c.ContextAffine = true
	}

	if source.Logger != nil {
		c.Logger = source.Logger
	}
}
