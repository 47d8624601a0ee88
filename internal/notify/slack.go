// Package notify posts batch summaries to Slack.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// Poster is the part of *slack.Client used here.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Slack struct {
	api     Poster
	channel string
}

// NewSlack builds a notifier from a bot token. Extra client options (for
// example slack.OptionAPIURL) are passed through.
func NewSlack(token, channel string, opts ...slack.Option) (*Slack, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}
	return NewSlackWithClient(slack.New(token, opts...), channel)
}

func NewSlackWithClient(api Poster, channel string) (*Slack, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, fmt.Errorf("slack channel is required")
	}
	return &Slack{api: api, channel: channel}, nil
}

// Post sends text to the configured channel and returns the message
// timestamp.
func (s *Slack) Post(ctx context.Context, text string) (string, error) {
	_, ts, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("post to %s: %w", s.channel, err)
	}
	return ts, nil
}

// PostSummary prefixes a batch summary with its title.
func (s *Slack) PostSummary(ctx context.Context, title, summary string) error {
	_, err := s.Post(ctx, fmt.Sprintf("%s: %s", title, summary))
	return err
}
