package generation

import (
	"time"

	"github.com/okian/casve/pkg/logger"
	"github.com/okian/casve/pkg/retry"
)

// Option configures a Generator.
type Option func(*Generator)

// WithRecorder sets where generation records go.
func WithRecorder(r Recorder) Option {
	return func(g *Generator) { g.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

// WithTimeout bounds each upstream attempt.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// WithRetry sets the upstream retry policy.
func WithRetry(cfg *retry.Config) Option {
	return func(g *Generator) {
		if cfg != nil {
			g.retry = cfg
		}
	}
}

// WithSampling sets temperature and the completion token cap.
func WithSampling(temperature float32, maxTokens int) Option {
	return func(g *Generator) {
		g.temperature = temperature
		if maxTokens > 0 {
			g.maxTokens = maxTokens
		}
	}
}

// WithModel sets the model name recorded when the upstream does not report one.
func WithModel(name string) Option {
	return func(g *Generator) { g.model = name }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}
