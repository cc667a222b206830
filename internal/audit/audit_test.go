package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestAppendAndQuery(t *testing.T) {
	t.Parallel()

	log := openTestLog(t)
	ctx := context.Background()

	rec := Record{
		CorrelationID: "corr-1",
		EventID:       "Ev01",
		Channel:       "C200",
		Requestor:     "U100",
		QueryText:     "status of BILL-1042",
		ThreadRoot:    "1739707200.000100",
		Outcome:       OutcomeDelivered,
		LatencyMS:     412,
		CreatedAt:     time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC),
	}
	if err := log.Append(ctx, rec); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, ok, err := log.Query(ctx, "corr-1")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !ok {
		t.Fatalf("Query() ok = false, want true")
	}
	if got.Outcome != OutcomeDelivered {
		t.Fatalf("outcome = %q, want %q", got.Outcome, OutcomeDelivered)
	}
	if got.ThreadRoot != rec.ThreadRoot {
		t.Fatalf("thread_root = %q, want %q", got.ThreadRoot, rec.ThreadRoot)
	}
	if got.LatencyMS != 412 {
		t.Fatalf("latency_ms = %d, want 412", got.LatencyMS)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}

	_, ok, err = log.Query(ctx, "corr-missing")
	if err != nil {
		t.Fatalf("Query(missing) error = %v", err)
	}
	if ok {
		t.Fatalf("Query(missing) ok = true, want false")
	}
}

func TestQueryByEvent(t *testing.T) {
	t.Parallel()

	log := openTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)

	appendRec := func(correlationID, outcome string, at time.Time) {
		t.Helper()
		err := log.Append(ctx, Record{
			CorrelationID: correlationID,
			EventID:       "Ev01",
			Channel:       "C200",
			Requestor:     "U100",
			ThreadRoot:    "1739707200.000100",
			Outcome:       outcome,
			CreatedAt:     at,
		})
		if err != nil {
			t.Fatalf("Append(%s) error = %v", correlationID, err)
		}
	}
	appendRec("corr-1", OutcomeDelivered, base)
	appendRec("corr-2", OutcomeDuplicateSuppressed, base.Add(time.Second))
	appendRec("corr-3", OutcomeDuplicateSuppressed, base.Add(2*time.Second))
	if err := log.Append(ctx, Record{
		CorrelationID: "corr-other",
		EventID:       "Ev99",
		ThreadRoot:    "1.0",
		Outcome:       OutcomeFailed,
	}); err != nil {
		t.Fatalf("Append(other event) error = %v", err)
	}

	records, err := log.QueryByEvent(ctx, "Ev01")
	if err != nil {
		t.Fatalf("QueryByEvent() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("QueryByEvent() returned %d records, want 3 (the Ev99 row must not appear)", len(records))
	}
	if records[0].CorrelationID != "corr-1" || records[2].CorrelationID != "corr-3" {
		t.Fatalf("order = [%s %s %s], want oldest first", records[0].CorrelationID, records[1].CorrelationID, records[2].CorrelationID)
	}
	var suppressed int
	for _, rec := range records {
		if rec.Outcome == OutcomeDuplicateSuppressed {
			suppressed++
		}
	}
	if suppressed != 2 {
		t.Fatalf("duplicate_suppressed records = %d, want 2", suppressed)
	}

	none, err := log.QueryByEvent(ctx, "Ev-missing")
	if err != nil {
		t.Fatalf("QueryByEvent(missing) error = %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("QueryByEvent(missing) returned %d records, want 0", len(none))
	}
}

func TestAppendIsAppendOnly(t *testing.T) {
	t.Parallel()

	log := openTestLog(t)
	ctx := context.Background()

	rec := Record{
		CorrelationID: "corr-1",
		EventID:       "Ev01",
		Channel:       "C200",
		Requestor:     "U100",
		ThreadRoot:    "1.0",
		Outcome:       OutcomeFailed,
	}
	if err := log.Append(ctx, rec); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := log.Append(ctx, rec); err == nil {
		t.Fatalf("Append(same correlation id) error = nil, want non-nil")
	}
}

func TestAppendRejectsUnknownOutcome(t *testing.T) {
	t.Parallel()

	log := openTestLog(t)
	err := log.Append(context.Background(), Record{
		CorrelationID: "corr-1",
		Outcome:       "retried",
	})
	if err == nil {
		t.Fatalf("Append(invalid outcome) error = nil, want non-nil")
	}
}
