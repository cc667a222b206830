package event

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeTopLevel(t *testing.T) {
	t.Parallel()

	sentAt := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	req, err := Normalize(Event{
		Type:    TypeAppMention,
		User:    "U100",
		Channel: "C200",
		Text:    "<@U002> what's the status of BILL-1042?",
		TS:      "1739707200.000100",
	}, sentAt)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if req.ThreadRoot != "1739707200.000100" {
		t.Fatalf("thread_root = %q, want event ts", req.ThreadRoot)
	}
	if !req.IsTopLevel() {
		t.Fatalf("IsTopLevel() = false, want true")
	}
	if req.QueryText != "what's the status of BILL-1042?" {
		t.Fatalf("query_text = %q, mention not stripped", req.QueryText)
	}
	if req.Requestor != "U100" || req.Channel != "C200" {
		t.Fatalf("requestor/channel = %q/%q, want U100/C200", req.Requestor, req.Channel)
	}
}

func TestNormalizePreservesThreadAnchor(t *testing.T) {
	t.Parallel()

	req, err := Normalize(Event{
		Type:     TypeMessage,
		User:     "U100",
		Channel:  "D300",
		Text:     "any update?",
		TS:       "1739707300.000200",
		ThreadTS: "1739707200.000100",
	}, time.Now())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if req.ThreadRoot != "1739707200.000100" {
		t.Fatalf("thread_root = %q, want the existing anchor", req.ThreadRoot)
	}
	if req.IsTopLevel() {
		t.Fatalf("IsTopLevel() = true, want false")
	}
}

func TestNormalizeMalformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ev   Event
	}{
		{"missing user", Event{Type: TypeAppMention, Channel: "C1", TS: "1.0"}},
		{"missing channel", Event{Type: TypeAppMention, User: "U1", TS: "1.0"}},
		{"missing ts", Event{Type: TypeAppMention, User: "U1", Channel: "C1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.ev, time.Now())
			if !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("Normalize() error = %v, want ErrMalformedEvent", err)
			}
		})
	}
}

func TestQualifies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ev   Event
		want bool
	}{
		{"app mention", Event{Type: TypeAppMention, User: "U1"}, true},
		{"direct message", Event{Type: TypeMessage, ChannelType: ChannelTypeIM, User: "U1"}, true},
		{"channel message", Event{Type: TypeMessage, ChannelType: "channel", User: "U1"}, false},
		{"bot message", Event{Type: TypeMessage, ChannelType: ChannelTypeIM, BotID: "B001"}, false},
		{"subtyped message", Event{Type: TypeMessage, ChannelType: ChannelTypeIM, Subtype: "message_changed"}, false},
		{"other event", Event{Type: "reaction_added"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Qualifies(tc.ev); got != tc.want {
				t.Fatalf("Qualifies() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStripMention(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"<@U002> hello", "hello"},
		{"<@U002|finny> hello", "hello"},
		{"hello <@U002> there", "hello there"},
		{"no mention", "no mention"},
		{"<@U002>", ""},
	}
	for _, tc := range cases {
		if got := StripMention(tc.in); got != tc.want {
			t.Fatalf("StripMention(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
