package recordstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/records/BILL-1042" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"BILL-1042","status":"paid","amount":1250.5}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL, "test-token")
	rec, err := client.Get(context.Background(), "/records/BILL-1042", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec["status"] != "paid" {
		t.Fatalf("status = %v, want paid", rec["status"])
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL, "")
	_, err := client.Get(context.Background(), "/records/missing", url.Values{"expand": {"lines"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGetDownstreamUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	client := NewClient(srv.Client(), srv.URL, "")

	_, err := client.Get(context.Background(), "/records/x", nil)
	if !errors.Is(err, ErrDownstreamUnavailable) {
		t.Fatalf("Get(5xx) error = %v, want ErrDownstreamUnavailable", err)
	}

	srv.Close()
	_, err = client.Get(context.Background(), "/records/x", nil)
	if !errors.Is(err, ErrDownstreamUnavailable) {
		t.Fatalf("Get(closed server) error = %v, want ErrDownstreamUnavailable", err)
	}
}
