package domain

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Layout selects how current-style ranges are organised for lookup.
type Layout int

const (
	// LayoutDomain keeps one index per domain plus the shared legacy index.
	LayoutDomain Layout = iota
	// LayoutFlat merges every domain into a single shared index, as the
	// first generation of the format did.
	LayoutFlat
)

func (l Layout) String() string {
	switch l {
	case LayoutDomain:
		return "domain"
	case LayoutFlat:
		return "flat"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// ParseLayout converts a config value into a Layout.
func ParseLayout(value string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "domain":
		return LayoutDomain, nil
	case "flat":
		return LayoutFlat, nil
	}

	return LayoutDomain, fmt.Errorf("unknown index layout %q", value)
}

// FailurePolicy decides what happens after a failed rebuild.
type FailurePolicy int

const (
	// PolicyDisable stops resolving for the process for the rest of the session.
	PolicyDisable FailurePolicy = iota
	// PolicyRetry stops resolving until the backoff has elapsed, then
	// re-reads every map file from scratch.
	PolicyRetry
)

func (p FailurePolicy) String() string {
	switch p {
	case PolicyDisable:
		return "disable"
	case PolicyRetry:
		return "retry"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseFailurePolicy converts a config value into a FailurePolicy.
func ParseFailurePolicy(value string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "disable":
		return PolicyDisable, nil
	case "retry":
		return PolicyRetry, nil
	}

	return PolicyDisable, fmt.Errorf("unknown failure policy %q", value)
}

// DefaultJITHost is the module name fragment of the Mono JIT host.
const DefaultJITHost = "mono-2.0"

// DefaultParallelism bounds how many map files are parsed at once.
const DefaultParallelism = 4

// Option is a functional option for NewResolver.
type Option func(*config)

type config struct {
	layout      Layout
	policy      FailurePolicy
	backoff     time.Duration
	jitHost     string
	parallelism int
	logger      *slog.Logger
	now         func() time.Time
}

func defaultConfig() config {
	return config{
		layout:      LayoutDomain,
		policy:      PolicyDisable,
		jitHost:     DefaultJITHost,
		parallelism: DefaultParallelism,
		now:         time.Now,
	}
}

// WithLayout sets the index organisation.
func WithLayout(layout Layout) Option {
	return func(c *config) {
		c.layout = layout
	}
}

// WithFailurePolicy sets the failure policy. backoff is only used by PolicyRetry.
func WithFailurePolicy(policy FailurePolicy, backoff time.Duration) Option {
	return func(c *config) {
		c.policy = policy
		c.backoff = backoff
	}
}

// WithJITHost sets the module name fragment that enables resolution.
func WithJITHost(host string) Option {
	return func(c *config) {
		if host != "" {
			c.jitHost = host
		}
	}
}

// WithParallelism bounds concurrent map file parsing during a rebuild.
func WithParallelism(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// WithLogger sets the diagnostic sink. A nil logger discards diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func withClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}
