// Package event parses Slack Events API payloads and normalizes the
// events the gateway answers into a canonical internal request.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	TypeURLVerification = "url_verification"
	TypeEventCallback   = "event_callback"

	TypeAppMention = "app_mention"
	TypeMessage    = "message"

	ChannelTypeIM = "im"
)

// ErrMalformedEvent marks payloads missing required fields.
var ErrMalformedEvent = errors.New("malformed event")

// Envelope is the outer Events API delivery payload.
type Envelope struct {
	Type      string          `json:"type,omitempty"`
	Challenge string          `json:"challenge,omitempty"`
	TeamID    string          `json:"team_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	EventTime int64           `json:"event_time,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// Event is the inner event object for mention and message deliveries.
type Event struct {
	Type        string `json:"type,omitempty"`
	Subtype     string `json:"subtype,omitempty"`
	User        string `json:"user,omitempty"`
	Text        string `json:"text,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	TS          string `json:"ts,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
	EventTS     string `json:"event_ts,omitempty"`
}

// NormalizedRequest is the canonical internal event handed to the
// dispatcher. ThreadRoot is always populated: the explicit thread anchor
// when present, else the event's own timestamp.
type NormalizedRequest struct {
	Channel    string
	Requestor  string
	QueryText  string
	MessageTS  string
	ThreadRoot string
	SentAt     time.Time
}

// IsTopLevel reports whether the request started a fresh thread.
func (r NormalizedRequest) IsTopLevel() bool {
	return r.MessageTS == r.ThreadRoot
}

// Qualifies reports whether ev is a user query the gateway answers:
// an app mention, or a direct message. Bot-authored and subtyped
// messages are skipped to avoid reply loops.
func Qualifies(ev Event) bool {
	if strings.TrimSpace(ev.Subtype) != "" {
		return false
	}
	if strings.TrimSpace(ev.BotID) != "" {
		return false
	}
	switch strings.TrimSpace(ev.Type) {
	case TypeAppMention:
		return true
	case TypeMessage:
		return strings.TrimSpace(ev.ChannelType) == ChannelTypeIM
	default:
		return false
	}
}

// Normalize maps a qualifying event into a NormalizedRequest. An existing
// thread anchor is preserved verbatim; events without one establish a new
// thread rooted at their own timestamp.
func Normalize(ev Event, sentAt time.Time) (NormalizedRequest, error) {
	user := strings.TrimSpace(ev.User)
	if user == "" {
		return NormalizedRequest{}, fmt.Errorf("%w: user is required", ErrMalformedEvent)
	}
	channel := strings.TrimSpace(ev.Channel)
	if channel == "" {
		return NormalizedRequest{}, fmt.Errorf("%w: channel is required", ErrMalformedEvent)
	}
	messageTS := strings.TrimSpace(ev.TS)
	if messageTS == "" {
		return NormalizedRequest{}, fmt.Errorf("%w: ts is required", ErrMalformedEvent)
	}
	threadRoot := strings.TrimSpace(ev.ThreadTS)
	if threadRoot == "" {
		threadRoot = messageTS
	}
	return NormalizedRequest{
		Channel:    channel,
		Requestor:  user,
		QueryText:  StripMention(ev.Text),
		MessageTS:  messageTS,
		ThreadRoot: threadRoot,
		SentAt:     sentAt.UTC(),
	}, nil
}

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+(?:\|[^>]+)?>\s*`)

// StripMention removes <@UXXX> bot mentions from event text.
func StripMention(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}
