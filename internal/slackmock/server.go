package slackmock

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// Bot identity reported by auth.test and used as the author of posted
// messages, mirroring the seeded workspace.
const (
	BotUserID = "U002"
	BotID     = "B001"
	BotName   = "finny_bot"
	TeamID    = "T001"
	TeamName  = "Mock Workspace"
)

// NewHandler builds the mock Slack API routes backed by store. All /api
// routes require a Bearer xoxb-* token.
func NewHandler(store *Store, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{store: store, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.requireAuth)
	api.HandleFunc("/auth.test", h.authTest).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/chat.postMessage", h.postMessage).Methods(http.MethodPost)
	api.HandleFunc("/chat.update", h.updateMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations.history", h.history).Methods(http.MethodGet)
	api.HandleFunc("/conversations.replies", h.replies).Methods(http.MethodGet)

	// Test-harness surface: inject and list raw events.
	r.HandleFunc("/slack/events", h.injectEvent).Methods(http.MethodPost)
	r.HandleFunc("/slack/events", h.listEvents).Methods(http.MethodGet)

	return r
}

type handler struct {
	store  *Store
	logger *slog.Logger
}

func (h *handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if auth == "" {
			writeSlackError(w, http.StatusUnauthorized, "not_authed")
			return
		}
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || !strings.HasPrefix(token, "xoxb-") {
			writeSlackError(w, http.StatusUnauthorized, "invalid_auth")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func (h *handler) authTest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"url":     "https://mock-workspace.slack.com/",
		"team":    TeamName,
		"user":    BotName,
		"team_id": TeamID,
		"user_id": BotUserID,
		"bot_id":  BotID,
	})
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeSlackError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	msg, err := h.store.PostMessage(req.Channel, BotUserID, req.Text, req.ThreadTS)
	if errors.Is(err, ErrChannelNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "channel_not_found"})
		return
	}
	if err != nil {
		writeSlackError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"channel": msg.Channel,
		"ts":      msg.TS,
		"message": msg,
	})
}

type updateMessageRequest struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
	Text    string `json:"text"`
}

func (h *handler) updateMessage(w http.ResponseWriter, r *http.Request) {
	var req updateMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeSlackError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	msg, err := h.store.UpdateMessage(req.Channel, req.TS, req.Text)
	if errors.Is(err, ErrMessageNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "message_not_found"})
		return
	}
	if err != nil {
		writeSlackError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"channel": msg.Channel,
		"ts":      msg.TS,
		"text":    msg.Text,
	})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	limit := 100
	if rawLimit := strings.TrimSpace(r.URL.Query().Get("limit")); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			writeSlackError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = parsed
	}
	messages, err := h.store.History(channel, limit)
	if errors.Is(err, ErrChannelNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "channel_not_found"})
		return
	}
	if err != nil {
		writeSlackError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"messages": messages,
		"has_more": false,
	})
}

func (h *handler) replies(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	ts := strings.TrimSpace(r.URL.Query().Get("ts"))
	messages, err := h.store.Replies(channel, ts)
	if errors.Is(err, ErrChannelNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "channel_not_found"})
		return
	}
	if err != nil {
		writeSlackError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"messages": messages,
		"has_more": false,
	})
}

func (h *handler) injectEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(raw) == 0 || !json.Valid(raw) {
		writeSlackError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	h.store.StoreEvent(raw)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "event": json.RawMessage(raw)})
}

func (h *handler) listEvents(w http.ResponseWriter, _ *http.Request) {
	events := h.store.Events()
	if events == nil {
		events = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "events": events})
}

func writeSlackError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// StartServer serves the mock Slack API until ctx is canceled.
func StartServer(ctx context.Context, logger *slog.Logger, listen string, store *Store) (*http.Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	listen = strings.TrimSpace(listen)
	if listen == "" {
		return nil, errors.New("empty mock listen address")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              listen,
		Handler:           NewHandler(store, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("slack_mock_server_error", "addr", listen, "error", err.Error())
		}
	}()

	logger.Info("slack_mock_start", "addr", listen)
	return srv, nil
}
