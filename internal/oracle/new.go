package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Settings selects and configures a provider plus the middleware chain.
type Settings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string

	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration

	Logger  *zap.Logger
	Counter *Counter
}

// New builds a provider client wrapped with counting, logging, retry and a
// per-attempt timeout. The returned UsageReporter exposes token totals.
func New(ctx context.Context, s Settings) (Oracle, UsageReporter, error) {
	var (
		base  Oracle
		usage UsageReporter
	)
	switch strings.ToLower(s.Provider) {
	case ProviderOpenAI, "":
		c := NewOpenAI(OpenAIConfig{APIKey: s.APIKey, Model: s.Model, BaseURL: s.BaseURL})
		base, usage = c, c
	case ProviderAnthropic:
		c := NewAnthropic(AnthropicConfig{APIKey: s.APIKey, Model: s.Model, BaseURL: s.BaseURL})
		base, usage = c, c
	case ProviderGemini:
		c, err := NewGemini(ctx, GeminiConfig{APIKey: s.APIKey, Model: s.Model, BaseURL: s.BaseURL})
		if err != nil {
			return nil, nil, err
		}
		base, usage = c, c
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", s.Provider)
	}

	mws := []Middleware{}
	if s.Counter != nil {
		mws = append(mws, WithCounter(s.Counter))
	}
	mws = append(mws,
		WithLogging(s.Logger, s.Provider+"/"+s.Model),
		WithRetry(s.MaxRetries, s.RetryBase),
		WithTimeout(s.Timeout),
	)
	return Wrap(base, mws...), usage, nil
}
