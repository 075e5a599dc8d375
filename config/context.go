package config

import (
	"os"

	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/pkg/log"
)

const (
	// ZeroThreshold bounds the bin that holds exact zeros: |v| <= ZeroThreshold.
	ZeroThreshold = 1e-35
	// Epsilon is the smallest hessian sum considered non-zero.
	Epsilon = 1e-15
)

// Context carries the engine wide settings that would otherwise be global: the
// worker count and the logger. A Context is read-only after construction and may
// be shared by any number of datasets and boosters.
type Context struct {
	numThreads int
	logger     log.Logger
}

// ContextOption customizes NewContext.
type ContextOption func(*Context)

// WithThreads sets the worker pool size; values <= 0 mean one worker per CPU.
func WithThreads(n int) ContextOption {
	return func(c *Context) { c.numThreads = n }
}

// WithLogger sets the logger used by every component created with the context.
func WithLogger(l log.Logger) ContextOption {
	return func(c *Context) { c.logger = l }
}

// WithVerbosity installs a stderr logger for a LightGBM verbose level.
func WithVerbosity(verbose int) ContextOption {
	return func(c *Context) { c.logger = log.NewLogger(os.Stderr, log.LevelFromVerbosity(verbose)) }
}

// NewContext creates a Context.
func NewContext(opts ...ContextOption) *Context {
	c := &Context{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.GetLogger()
	}
	return c
}

// ContextFor derives a Context from the thread and verbosity settings of cfg.
func ContextFor(cfg *Config) *Context {
	return NewContext(WithThreads(cfg.NumThreads), WithVerbosity(cfg.Verbose))
}

// Workers is the effective worker pool size.
func (c *Context) Workers() int {
	return parallel.Workers(c.numThreads)
}

// Logger returns a component logger.
func (c *Context) Logger(component string) log.Logger {
	return c.logger.With(log.ComponentKey, component)
}

// OrDefault returns c, or a default Context when c is nil.
func (c *Context) OrDefault() *Context {
	if c == nil {
		return NewContext()
	}
	return c
}
