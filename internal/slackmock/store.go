// Package slackmock is an in-memory stand-in for the Slack message log.
// Its two read views carry the contract the pipeline depends on: history
// returns only top-level messages, replies returns a thread's parent plus
// everything anchored to it. A consumer watching history alone will never
// see threaded agent replies.
package slackmock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrChannelNotFound = errors.New("channel_not_found")
	ErrMessageNotFound = errors.New("message_not_found")
)

type Message struct {
	Channel  string `json:"channel"`
	User     string `json:"user"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Type     string `json:"type"`
}

type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsChannel bool   `json:"is_channel"`
	IsIM      bool   `json:"is_im"`
}

type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	IsBot    bool   `json:"is_bot"`
}

// Store holds channels, users and per-channel message logs. Writes are
// serialized so assigned ts values stay unique and monotonic per store.
type Store struct {
	mu        sync.Mutex
	nowFn     func() time.Time
	channels  map[string]Channel
	users     map[string]User
	messages  map[string][]Message
	events    []json.RawMessage
	tsCounter int
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		nowFn:    now,
		channels: make(map[string]Channel),
		users:    make(map[string]User),
		messages: make(map[string][]Message),
	}
}

func (s *Store) AddChannel(ch Channel) {
	id := strings.TrimSpace(ch.ID)
	if id == "" {
		return
	}
	ch.ID = id
	s.mu.Lock()
	s.channels[id] = ch
	s.mu.Unlock()
}

func (s *Store) AddUser(u User) {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return
	}
	u.ID = id
	s.mu.Lock()
	s.users[id] = u
	s.mu.Unlock()
}

func (s *Store) Channel(id string) (Channel, bool) {
	s.mu.Lock()
	ch, ok := s.channels[strings.TrimSpace(id)]
	s.mu.Unlock()
	return ch, ok
}

func (s *Store) User(id string) (User, bool) {
	s.mu.Lock()
	u, ok := s.users[strings.TrimSpace(id)]
	s.mu.Unlock()
	return u, ok
}

// PostMessage appends a message, assigning the next ts. threadTS is
// recorded verbatim; an empty value makes the message top-level.
func (s *Store) PostMessage(channel, user, text, threadTS string) (Message, error) {
	channel = strings.TrimSpace(channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel]; !ok {
		return Message{}, ErrChannelNotFound
	}
	msg := Message{
		Channel:  channel,
		User:     strings.TrimSpace(user),
		Text:     text,
		TS:       s.nextTSLocked(),
		ThreadTS: strings.TrimSpace(threadTS),
		Type:     "message",
	}
	s.messages[channel] = append(s.messages[channel], msg)
	return msg, nil
}

// UpdateMessage rewrites the text of an existing message.
func (s *Store) UpdateMessage(channel, ts, text string) (Message, error) {
	channel = strings.TrimSpace(channel)
	ts = strings.TrimSpace(ts)
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[channel]
	for i := range msgs {
		if msgs[i].TS == ts {
			msgs[i].Text = text
			return msgs[i], nil
		}
	}
	return Message{}, ErrMessageNotFound
}

// History returns the top-level view: messages with no thread anchor,
// most recent first, capped at limit.
func (s *Store) History(channel string, limit int) ([]Message, error) {
	channel = strings.TrimSpace(channel)
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel]; !ok {
		return nil, ErrChannelNotFound
	}
	topLevel := make([]Message, 0, len(s.messages[channel]))
	for _, m := range s.messages[channel] {
		if m.ThreadTS == "" {
			topLevel = append(topLevel, m)
		}
	}
	sortByTS(topLevel)
	if len(topLevel) > limit {
		topLevel = topLevel[len(topLevel)-limit:]
	}
	out := make([]Message, 0, len(topLevel))
	for i := len(topLevel) - 1; i >= 0; i-- {
		out = append(out, topLevel[i])
	}
	return out, nil
}

// Replies returns the thread view for parent ts: the parent itself plus
// every message anchored to it, in timestamp order.
func (s *Store) Replies(channel, ts string) ([]Message, error) {
	channel = strings.TrimSpace(channel)
	ts = strings.TrimSpace(ts)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel]; !ok {
		return nil, ErrChannelNotFound
	}
	var out []Message
	for _, m := range s.messages[channel] {
		if m.TS == ts || m.ThreadTS == ts {
			out = append(out, m)
		}
	}
	sortByTS(out)
	return out, nil
}

// sortByTS orders messages oldest first. Live posts already arrive in
// ts order; seed files may not.
func sortByTS(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return tsLess(msgs[i].TS, msgs[j].TS)
	})
}

func tsLess(a, b string) bool {
	aSecs, aCounter := splitTS(a)
	bSecs, bCounter := splitTS(b)
	if aSecs != bSecs {
		return aSecs < bSecs
	}
	return aCounter < bCounter
}

func splitTS(ts string) (int64, int64) {
	parts := strings.SplitN(ts, ".", 2)
	secs, _ := strconv.ParseInt(parts[0], 10, 64)
	var counter int64
	if len(parts) == 2 {
		counter, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return secs, counter
}

// StoreEvent records a raw injected event for later retrieval by test
// harnesses.
func (s *Store) StoreEvent(raw json.RawMessage) {
	cp := append(json.RawMessage(nil), raw...)
	s.mu.Lock()
	s.events = append(s.events, cp)
	s.mu.Unlock()
}

func (s *Store) Events() []json.RawMessage {
	s.mu.Lock()
	out := append([]json.RawMessage(nil), s.events...)
	s.mu.Unlock()
	return out
}

func (s *Store) nextTSLocked() string {
	s.tsCounter++
	return fmt.Sprintf("%d.%06d", s.nowFn().Unix(), s.tsCounter)
}

type seedFile struct {
	Channels []Channel `json:"channels"`
	Users    []User    `json:"users"`
	Messages []Message `json:"messages"`
}

// LoadSeed populates the store from a JSON seed file and advances the ts
// counter past the seeded timestamps so new messages never collide.
func (s *Store) LoadSeed(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("seed file path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("seed file is not valid json: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range seed.Channels {
		if id := strings.TrimSpace(ch.ID); id != "" {
			ch.ID = id
			s.channels[id] = ch
		}
	}
	for _, u := range seed.Users {
		if id := strings.TrimSpace(u.ID); id != "" {
			u.ID = id
			s.users[id] = u
		}
	}
	for _, m := range seed.Messages {
		channel := strings.TrimSpace(m.Channel)
		if channel == "" || strings.TrimSpace(m.TS) == "" {
			continue
		}
		m.Channel = channel
		if m.Type == "" {
			m.Type = "message"
		}
		s.messages[channel] = append(s.messages[channel], m)
		if parts := strings.SplitN(m.TS, ".", 2); len(parts) == 2 {
			if counter, err := strconv.Atoi(parts[1]); err == nil && counter > s.tsCounter {
				s.tsCounter = counter
			}
		}
	}
	return nil
}
