package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quailyquaily/finnygate/internal/event"
	"github.com/quailyquaily/finnygate/internal/recordstore"
)

func newLookupRunner(t *testing.T, handler http.HandlerFunc) *LookupRunner {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	r, err := NewLookupRunner(LookupRunnerOptions{
		Records: recordstore.NewClient(srv.Client(), srv.URL, "mock-token"),
	})
	if err != nil {
		t.Fatalf("NewLookupRunner() error = %v", err)
	}
	return r
}

func TestLookupRunnerSummarizesRecord(t *testing.T) {
	t.Parallel()

	r := newLookupRunner(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/records/BILL-1042" {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"BILL-1042","status":"paid","amount":1250.5,"vendor":"Acme Corp"}`))
	})

	text, err := r.Run(context.Background(), event.NormalizedRequest{
		Channel:   "C200",
		Requestor: "U100",
		QueryText: "what's the status of BILL-1042?",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(text, "BILL-1042") {
		t.Fatalf("reply %q does not name the record", text)
	}
	if !strings.Contains(text, "status: paid") {
		t.Fatalf("reply %q does not carry the status field", text)
	}
	if !strings.Contains(text, "vendor: Acme Corp") {
		t.Fatalf("reply %q does not carry the vendor field", text)
	}
}

func TestLookupRunnerNotFound(t *testing.T) {
	t.Parallel()

	r := newLookupRunner(t, func(w http.ResponseWriter, req *http.Request) {
		http.NotFound(w, req)
	})

	text, err := r.Run(context.Background(), event.NormalizedRequest{
		QueryText: "status of BILL-9999 please",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(text, "couldn't find a record matching BILL-9999") {
		t.Fatalf("reply %q is not the not-found message", text)
	}
}

func TestLookupRunnerNoReference(t *testing.T) {
	t.Parallel()

	r := newLookupRunner(t, func(w http.ResponseWriter, req *http.Request) {
		t.Errorf("record store called for a query with no reference")
	})

	text, err := r.Run(context.Background(), event.NormalizedRequest{
		QueryText: "hello there",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if text != fallbackAnswer {
		t.Fatalf("reply = %q, want the fallback answer", text)
	}
}

func TestLookupRunnerDownstreamError(t *testing.T) {
	t.Parallel()

	r := newLookupRunner(t, func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := r.Run(context.Background(), event.NormalizedRequest{
		QueryText: "status of BILL-1042",
	})
	if err == nil {
		t.Fatalf("Run() error = nil, want downstream error")
	}
}
