// Package oracle defines the text-completion contract used by the
// selectors and the provider clients behind it.
//
// An Oracle is stateless: no conversation history is carried between
// calls, and providers are configured for deterministic decoding.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type Oracle interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f Func) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// TransportError wraps any failure to get a completion back: network,
// timeout, quota, malformed provider payload.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s oracle: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err came from an oracle transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func transportErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Provider: provider, Err: err}
}

// Usage is cumulative token accounting for a provider client.
type Usage struct {
	Calls        int64
	InputTokens  int64
	OutputTokens int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.Calls += other.Calls
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// UsageReporter is implemented by provider clients that count tokens.
type UsageReporter interface {
	Usage() Usage
}

type meter struct {
	mu    sync.Mutex
	usage Usage
}

func (m *meter) record(in, out int64) {
	m.mu.Lock()
	m.usage.Add(Usage{Calls: 1, InputTokens: in, OutputTokens: out})
	m.mu.Unlock()
}

func (m *meter) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}
