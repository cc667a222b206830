package slackmock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestStore() *Store {
	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	store := NewStore(func() time.Time { return now })
	store.AddChannel(Channel{ID: "C200", Name: "billing", IsChannel: true})
	return store
}

func TestPostMessageAssignsMonotonicTS(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	first, err := store.PostMessage("C200", "U100", "first", "")
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	second, err := store.PostMessage("C200", "U100", "second", "")
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if first.TS >= second.TS {
		t.Fatalf("ts not monotonic: %q then %q", first.TS, second.TS)
	}
	if _, err := store.PostMessage("C999", "U100", "nope", ""); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("PostMessage(unknown channel) error = %v, want ErrChannelNotFound", err)
	}
}

func TestHistoryAndRepliesViews(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	parent, err := store.PostMessage("C200", "U100", "status of BILL-1042?", "")
	if err != nil {
		t.Fatalf("PostMessage(parent) error = %v", err)
	}
	reply, err := store.PostMessage("C200", BotUserID, "BILL-1042 is paid.", parent.TS)
	if err != nil {
		t.Fatalf("PostMessage(reply) error = %v", err)
	}
	other, err := store.PostMessage("C200", "U100", "unrelated", "")
	if err != nil {
		t.Fatalf("PostMessage(other) error = %v", err)
	}

	history, err := store.History("C200", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d messages, want 2", len(history))
	}
	// Most recent first, and the threaded reply never appears.
	if history[0].TS != other.TS || history[1].TS != parent.TS {
		t.Fatalf("History() order = [%s %s], want [%s %s]", history[0].TS, history[1].TS, other.TS, parent.TS)
	}
	for _, m := range history {
		if m.TS == reply.TS {
			t.Fatalf("History() contains threaded reply %s", reply.TS)
		}
	}

	thread, err := store.Replies("C200", parent.TS)
	if err != nil {
		t.Fatalf("Replies() error = %v", err)
	}
	if len(thread) != 2 {
		t.Fatalf("Replies() returned %d messages, want 2", len(thread))
	}
	if thread[0].TS != parent.TS || thread[1].TS != reply.TS {
		t.Fatalf("Replies() order = [%s %s], want parent then reply", thread[0].TS, thread[1].TS)
	}
	if thread[1].ThreadTS != parent.TS {
		t.Fatalf("reply thread_ts = %q, want %q", thread[1].ThreadTS, parent.TS)
	}
}

func TestUpdateMessage(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	msg, err := store.PostMessage("C200", "U100", "draft", "")
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	updated, err := store.UpdateMessage("C200", msg.TS, "final")
	if err != nil {
		t.Fatalf("UpdateMessage() error = %v", err)
	}
	if updated.Text != "final" {
		t.Fatalf("text = %q, want final", updated.Text)
	}
	if _, err := store.UpdateMessage("C200", "9.000099", "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("UpdateMessage(missing) error = %v, want ErrMessageNotFound", err)
	}
}

func TestSeededViewsAreTSOrdered(t *testing.T) {
	t.Parallel()

	// Messages deliberately out of ts order in the seed file.
	seed := `{
		"channels": [{"id": "C200", "name": "billing", "is_channel": true}],
		"messages": [
			{"channel": "C200", "user": "U100", "text": "newest top-level", "ts": "1739707300.000400"},
			{"channel": "C200", "user": "U100", "text": "second reply", "ts": "1739707250.000300", "thread_ts": "1739707200.000100"},
			{"channel": "C200", "user": "U100", "text": "parent", "ts": "1739707200.000100"},
			{"channel": "C200", "user": "U100", "text": "first reply", "ts": "1739707210.000200", "thread_ts": "1739707200.000100"}
		]
	}`
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	store := NewStore(func() time.Time {
		return time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	})
	if err := store.LoadSeed(path); err != nil {
		t.Fatalf("LoadSeed() error = %v", err)
	}

	thread, err := store.Replies("C200", "1739707200.000100")
	if err != nil {
		t.Fatalf("Replies() error = %v", err)
	}
	want := []string{"1739707200.000100", "1739707210.000200", "1739707250.000300"}
	if len(thread) != len(want) {
		t.Fatalf("Replies() returned %d messages, want %d", len(thread), len(want))
	}
	for i, ts := range want {
		if thread[i].TS != ts {
			t.Fatalf("Replies()[%d].TS = %q, want %q (ts order)", i, thread[i].TS, ts)
		}
	}

	history, err := store.History("C200", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d messages, want 2", len(history))
	}
	if history[0].TS != "1739707300.000400" || history[1].TS != "1739707200.000100" {
		t.Fatalf("History() order = [%s %s], want most recent first", history[0].TS, history[1].TS)
	}
}

func TestLoadSeedAdvancesTSCounter(t *testing.T) {
	t.Parallel()

	seed := `{
		"channels": [{"id": "C200", "name": "billing", "is_channel": true}],
		"users": [{"id": "U100", "name": "alice", "real_name": "Alice W"}],
		"messages": [
			{"channel": "C200", "user": "U100", "text": "seeded", "ts": "1739707200.000450"}
		]
	}`
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	store := NewStore(func() time.Time {
		return time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	})
	if err := store.LoadSeed(path); err != nil {
		t.Fatalf("LoadSeed() error = %v", err)
	}
	if _, ok := store.Channel("C200"); !ok {
		t.Fatalf("Channel(C200) not seeded")
	}
	if _, ok := store.User("U100"); !ok {
		t.Fatalf("User(U100) not seeded")
	}

	msg, err := store.PostMessage("C200", "U100", "new", "")
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	parts := strings.SplitN(msg.TS, ".", 2)
	if len(parts) != 2 {
		t.Fatalf("ts %q is not in unix.counter form", msg.TS)
	}
	counter, err := strconv.Atoi(parts[1])
	if err != nil {
		t.Fatalf("ts counter %q is not numeric", parts[1])
	}
	if counter <= 450 {
		t.Fatalf("ts counter = %d, want > 450 (past seeded value)", counter)
	}
}
