// Package slackapi is the outbound Slack Web API client used by the
// reply poster and by monitoring harnesses. It speaks to real Slack or
// to the bundled mock, selected by base URL.
package slackapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Message is the platform-side message shape. ThreadTS empty means
// top-level: such messages appear in the history view, threaded ones
// only in the replies view of their root.
type Message struct {
	Channel  string `json:"channel"`
	User     string `json:"user,omitempty"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Type     string `json:"type,omitempty"`
}

type AuthIdentity struct {
	TeamID string
	UserID string
	BotID  string
	Team   string
	User   string
}

type Client struct {
	http     *http.Client
	baseURL  string
	botToken string
}

func NewClient(httpClient *http.Client, baseURL, botToken string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		botToken: strings.TrimSpace(botToken),
	}
}

type authTestResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	BotID  string `json:"bot_id,omitempty"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
}

func (c *Client) AuthTest(ctx context.Context) (AuthIdentity, error) {
	if c == nil {
		return AuthIdentity{}, fmt.Errorf("slack client is not initialized")
	}
	body, status, _, err := c.postJSON(ctx, "/auth.test", nil)
	if err != nil {
		return AuthIdentity{}, err
	}
	if status < 200 || status >= 300 {
		return AuthIdentity{}, fmt.Errorf("slack auth.test http %d", status)
	}
	var out authTestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return AuthIdentity{}, err
	}
	if !out.OK {
		return AuthIdentity{}, fmt.Errorf("slack auth.test failed: %s", errorCode(out.Error))
	}
	return AuthIdentity{
		TeamID: strings.TrimSpace(out.TeamID),
		UserID: strings.TrimSpace(out.UserID),
		BotID:  strings.TrimSpace(out.BotID),
		Team:   strings.TrimSpace(out.Team),
		User:   strings.TrimSpace(out.User),
	}, nil
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type postMessageResponse struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Channel string   `json:"channel,omitempty"`
	TS      string   `json:"ts,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// PostMessage posts text into channel anchored at threadTS, retrying
// rate-limit and 5xx replies with backoff. The returned Message carries
// the ts the platform assigned.
func (c *Client) PostMessage(ctx context.Context, channelID, text, threadTS string) (Message, error) {
	channelID = strings.TrimSpace(channelID)
	text = strings.TrimSpace(text)
	threadTS = strings.TrimSpace(threadTS)
	if channelID == "" {
		return Message{}, fmt.Errorf("channel_id is required")
	}
	if text == "" {
		return Message{}, fmt.Errorf("text is required")
	}
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, headers, err := c.postJSON(ctx, "/chat.postMessage", postMessageRequest{
			Channel:  channelID,
			Text:     text,
			ThreadTS: threadTS,
		})
		if err != nil {
			lastErr = err
		} else {
			var out postMessageResponse
			if parseErr := json.Unmarshal(body, &out); parseErr != nil {
				lastErr = parseErr
			} else if status < 200 || status >= 300 {
				lastErr = fmt.Errorf("slack chat.postMessage http %d", status)
			} else if out.OK {
				msg := Message{Channel: out.Channel, Text: text, TS: out.TS, ThreadTS: threadTS}
				if out.Message != nil {
					msg = *out.Message
				}
				return msg, nil
			} else {
				lastErr = fmt.Errorf("slack chat.postMessage failed: %s", errorCode(out.Error))
			}
		}

		if attempt >= maxAttempts {
			break
		}
		wait, retryable := retryDelay(status, headers, attempt)
		if !retryable {
			break
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return Message{}, err
		}
	}
	return Message{}, lastErr
}

type messageListResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// History returns the top-level view of a channel: messages with no
// thread anchor. Threaded replies never appear here.
func (c *Client) History(ctx context.Context, channelID string) ([]Message, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, fmt.Errorf("channel_id is required")
	}
	return c.getMessages(ctx, "/conversations.history", url.Values{"channel": {channelID}})
}

// Replies returns the thread view for parent ts: the parent message plus
// every message anchored to it, in timestamp order.
func (c *Client) Replies(ctx context.Context, channelID, ts string) ([]Message, error) {
	channelID = strings.TrimSpace(channelID)
	ts = strings.TrimSpace(ts)
	if channelID == "" {
		return nil, fmt.Errorf("channel_id is required")
	}
	if ts == "" {
		return nil, fmt.Errorf("ts is required")
	}
	return c.getMessages(ctx, "/conversations.replies", url.Values{"channel": {channelID}, "ts": {ts}})
}

func (c *Client) getMessages(ctx context.Context, path string, query url.Values) ([]Message, error) {
	body, status, _, err := c.getJSON(ctx, path, query)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("slack %s http %d", strings.TrimPrefix(path, "/"), status)
	}
	var out messageListResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("slack %s failed: %s", strings.TrimPrefix(path, "/"), errorCode(out.Error))
	}
	return out.Messages, nil
}

func errorCode(raw string) string {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "unknown_error"
	}
	return code
}

func retryDelay(status int, headers http.Header, attempt int) (time.Duration, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := strings.TrimSpace(headers.Get("Retry-After"))
		if retryAfter == "" {
			return 1 * time.Second, true
		}
		secs, err := strconv.Atoi(retryAfter)
		if err != nil || secs <= 0 {
			return 1 * time.Second, true
		}
		return time.Duration(secs) * time.Second, true
	case status >= 500 && status <= 599:
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		case 2:
			return 1 * time.Second, true
		default:
			return 2 * time.Second, true
		}
	default:
		return 0, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, int, http.Header, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	return c.doJSON(ctx, http.MethodPost, path, nil, body)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values) ([]byte, int, http.Header, error) {
	return c.doJSON(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body io.Reader) ([]byte, int, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, 0, nil, fmt.Errorf("slack client is not initialized")
	}
	if c.botToken == "" {
		return nil, 0, nil, fmt.Errorf("slack bot token is required")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, 0, nil, fmt.Errorf("slack api path is required")
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, resp.Header, readErr
	}
	return raw, resp.StatusCode, resp.Header, nil
}
