// Package engine holds the Config threaded explicitly into every Session,
// rather than reaching for a module-level LLM-client singleton.
package engine

import (
	"time"

	"github.com/arcware-labs/metaproto/llm"
	"github.com/arcware-labs/metaproto/metrics"
	"github.com/rs/zerolog"
)

// Default bounds for negotiation rounds, LLM retries, and timeouts.
const (
	DefaultMaxRounds      = 10
	DefaultLLMRetries     = 2
	DefaultRoundTimeout   = 60 * time.Second
	DefaultLLMTimeout     = 30 * time.Second
	DefaultCodeGenTimeout = 30 * time.Second
)

// Config bundles everything a Session needs beyond its per-peer wiring:
// the shared LLM client, where generated code is written, and the bounded
// round/retry/timeout constants callers configure explicitly.
type Config struct {
	LLM            llm.Client
	CodePath       string
	MaxRounds      int
	LLMRetries     int
	RoundTimeout   time.Duration
	LLMTimeout     time.Duration
	CodeGenTimeout time.Duration
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// Option configures a Config.
type Option func(*Config)

// WithMaxRounds overrides MAX_ROUNDS.
func WithMaxRounds(n int) Option { return func(c *Config) { c.MaxRounds = n } }

// WithLLMRetries overrides LLM_RETRIES.
func WithLLMRetries(n int) Option { return func(c *Config) { c.LLMRetries = n } }

// WithRoundTimeout overrides ROUND_TIMEOUT.
func WithRoundTimeout(d time.Duration) Option { return func(c *Config) { c.RoundTimeout = d } }

// WithLLMTimeout overrides LLM_TIMEOUT.
func WithLLMTimeout(d time.Duration) Option { return func(c *Config) { c.LLMTimeout = d } }

// WithCodeGenTimeout overrides CODE_GEN_TIMEOUT.
func WithCodeGenTimeout(d time.Duration) Option { return func(c *Config) { c.CodeGenTimeout = d } }

// WithCodePath sets the directory generated handler source is written under.
func WithCodePath(path string) Option { return func(c *Config) { c.CodePath = path } }

// WithLogger overrides the structured logger attached to every session.
func WithLogger(l zerolog.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithMetrics overrides the metrics sink. Defaults to a no-op registry.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Config) { c.Metrics = m } }

// NewConfig builds a Config with sensible defaults, applying opts on top.
func NewConfig(llmClient llm.Client, codePath string, opts ...Option) Config {
	c := Config{
		LLM:            llmClient,
		CodePath:       codePath,
		MaxRounds:      DefaultMaxRounds,
		LLMRetries:     DefaultLLMRetries,
		RoundTimeout:   DefaultRoundTimeout,
		LLMTimeout:     DefaultLLMTimeout,
		CodeGenTimeout: DefaultCodeGenTimeout,
		Logger:         zerolog.Nop(),
		Metrics:        metrics.NewNoop(),
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}
