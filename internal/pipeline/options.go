package pipeline

import "github.com/dictumlabs/dictum/internal/resilience"

const (
	defaultClassifyBatch  = 7
	defaultSplitBatch     = 5
	defaultTransformBatch = 7
	defaultUnifiedBatch   = 10
	defaultContextRadius  = 2
	defaultTemperature    = 0.2
	defaultMaxInFlight    = 4
)

// stageConfig carries the knobs every oracle stage shares. Constructors seed
// stage-specific defaults before applying options.
type stageConfig struct {
	batch       int
	radius      int
	temperature float64
	maxInFlight int
	retry       resilience.RetryConfig
}

func (c stageConfig) withDefaults(batch int) stageConfig {
	if c.batch <= 0 {
		c.batch = batch
	}
	if c.radius < 0 {
		c.radius = defaultContextRadius
	}
	if c.maxInFlight <= 0 {
		c.maxInFlight = defaultMaxInFlight
	}
	return c
}

// Option adjusts a stage's batching, context, and sampling behavior.
type Option func(*stageConfig)

// WithBatchSize overrides how many segments each oracle call covers.
func WithBatchSize(n int) Option {
	return func(c *stageConfig) {
		if n > 0 {
			c.batch = n
		}
	}
}

// WithContextRadius overrides how many neighboring segments ride along as
// read-only context. Zero disables context.
func WithContextRadius(n int) Option {
	return func(c *stageConfig) {
		if n >= 0 {
			c.radius = n
		}
	}
}

// WithTemperature sets the sampling temperature for the stage's oracle calls.
func WithTemperature(t float64) Option {
	return func(c *stageConfig) { c.temperature = t }
}

// WithRetry overrides the retry policy applied around each oracle call.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *stageConfig) { c.retry = cfg }
}

// WithMaxInFlight bounds concurrent oracle calls in the parallel variants.
func WithMaxInFlight(n int) Option {
	return func(c *stageConfig) {
		if n > 0 {
			c.maxInFlight = n
		}
	}
}

func newStageConfig(batch int, opts []Option) stageConfig {
	cfg := stageConfig{
		batch:       batch,
		radius:      defaultContextRadius,
		temperature: defaultTemperature,
		maxInFlight: defaultMaxInFlight,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg.withDefaults(batch)
}
