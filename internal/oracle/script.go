package oracle

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned once a Script has no responses left.
var ErrScriptExhausted = errors.New("script exhausted")

// Reply is one scripted answer.
type Reply struct {
	Text string
	Err  error
}

// Call is a recorded request.
type Call struct {
	System string
	User   string
}

// Script replays canned replies in order and records every request. When
// Respond is set it is used instead of the queue. It stands in for a real
// provider in tests and offline runs.
type Script struct {
	Respond func(system, user string) (string, error)

	mu      sync.Mutex
	replies []Reply
	calls   []Call
}

func NewScript(replies ...Reply) *Script {
	return &Script{replies: replies}
}

// Texts builds a Script of successful replies.
func Texts(texts ...string) *Script {
	s := &Script{}
	for _, t := range texts {
		s.replies = append(s.replies, Reply{Text: t})
	}
	return s
}

func (s *Script) Complete(ctx context.Context, system, user string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{System: system, User: user})
	respond := s.Respond
	var next Reply
	exhausted := len(s.replies) == 0
	if !exhausted {
		next, s.replies = s.replies[0], s.replies[1:]
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", transportErr("script", err)
	}
	if respond != nil {
		text, err := respond(system, user)
		return text, transportErr("script", err)
	}
	if exhausted {
		return "", transportErr("script", ErrScriptExhausted)
	}
	return next.Text, transportErr("script", next.Err)
}

func (s *Script) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
