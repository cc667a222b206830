// Package gateway is the webhook intake surface: it verifies, dedups and
// normalizes inbound Slack events and acknowledges them within the
// upstream's timeout, before any agent work happens.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quailyquaily/finnygate/internal/audit"
	"github.com/quailyquaily/finnygate/internal/dedup"
	"github.com/quailyquaily/finnygate/internal/dispatch"
	"github.com/quailyquaily/finnygate/internal/event"
	"github.com/quailyquaily/finnygate/internal/signature"
)

const (
	headerTimestamp = "X-Slack-Request-Timestamp"
	headerSignature = "X-Slack-Signature"

	maxBodyBytes = 1 << 20
)

type IntakeOptions struct {
	Verifier   *signature.Verifier
	Dedup      *dedup.Store
	Dispatcher *dispatch.Dispatcher
	Audit      *audit.Log
	Logger     *slog.Logger
	Registry   *prometheus.Registry
	Now        func() time.Time
}

// Intake owns the synchronous part of the pipeline. Everything it does
// per request must stay well inside the webhook caller's timeout.
type Intake struct {
	verifier   *signature.Verifier
	dedup      *dedup.Store
	dispatcher *dispatch.Dispatcher
	audit      *audit.Log
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *Metrics
	nowFn      func() time.Time
}

func NewIntake(opts IntakeOptions) (*Intake, error) {
	if opts.Verifier == nil {
		return nil, fmt.Errorf("signature verifier is required")
	}
	if opts.Dedup == nil {
		return nil, fmt.Errorf("dedup store is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("audit log is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Intake{
		verifier:   opts.Verifier,
		dedup:      opts.Dedup,
		dispatcher: opts.Dispatcher,
		audit:      opts.Audit,
		logger:     logger,
		registry:   registry,
		metrics:    NewMetrics(registry),
		nowFn:      nowFn,
	}, nil
}

// Routes returns the gateway HTTP handler.
func (in *Intake) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/slack/events", in.handleEvents).Methods(http.MethodPost)
	r.HandleFunc("/health", in.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", promhttp.HandlerFor(in.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func (in *Intake) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":   true,
		"time": in.nowFn().Format(time.RFC3339Nano),
	})
}

func (in *Intake) handleEvents(w http.ResponseWriter, r *http.Request) {
	start := in.nowFn()
	defer func() {
		in.metrics.AckSeconds.Observe(in.nowFn().Sub(start).Seconds())
	}()
	in.metrics.Received.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		in.metrics.Rejected.WithLabelValues(RejectReasonMalformed).Inc()
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if err := in.verifier.Verify(body, r.Header.Get(headerTimestamp), r.Header.Get(headerSignature)); err != nil {
		in.metrics.Rejected.WithLabelValues(RejectReasonAuth).Inc()
		in.logger.Warn("event_auth_rejected", "remote_addr", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var envelope event.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		in.metrics.Rejected.WithLabelValues(RejectReasonMalformed).Inc()
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if envelope.Type == event.TypeURLVerification {
		writeJSON(w, http.StatusOK, map[string]any{"challenge": envelope.Challenge})
		return
	}

	var ev event.Event
	if len(envelope.Event) > 0 {
		if err := json.Unmarshal(envelope.Event, &ev); err != nil {
			in.metrics.Rejected.WithLabelValues(RejectReasonMalformed).Inc()
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if !event.Qualifies(ev) {
		in.metrics.Ignored.Inc()
		writeAck(w)
		return
	}

	dedupKey := dedup.Key(envelope.EventID, ev.Type, ev.User, ev.Channel, ev.TS)
	if !in.dedup.FirstSeen(dedupKey) {
		in.metrics.Duplicates.Inc()
		in.recordDuplicate(envelope, ev, start)
		writeAck(w)
		return
	}

	sentAt := start
	if envelope.EventTime > 0 {
		sentAt = time.Unix(envelope.EventTime, 0).UTC()
	}
	req, err := event.Normalize(ev, sentAt)
	if err != nil {
		in.dedup.Forget(dedupKey)
		in.metrics.Rejected.WithLabelValues(RejectReasonMalformed).Inc()
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}
	if req.QueryText == "" {
		// Nothing to answer once the mention is stripped.
		in.metrics.Ignored.Inc()
		writeAck(w)
		return
	}

	correlationID := newCorrelationID()
	err = in.dispatcher.Enqueue(r.Context(), dispatch.Job{
		CorrelationID: correlationID,
		EventID:       strings.TrimSpace(envelope.EventID),
		Request:       req,
	})
	if err != nil {
		// Unmark so the upstream retry of this delivery is not suppressed.
		in.dedup.Forget(dedupKey)
		in.metrics.Rejected.WithLabelValues(RejectReasonQueueFull).Inc()
		in.logger.Warn("event_enqueue_error",
			"correlation_id", correlationID,
			"channel", req.Channel,
			"thread_root", req.ThreadRoot,
			"error", err.Error(),
		)
		if errors.Is(err, dispatch.ErrQueueFull) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	in.metrics.Enqueued.Inc()
	in.logger.Info("event_enqueued",
		"correlation_id", correlationID,
		"event_id", strings.TrimSpace(envelope.EventID),
		"channel", req.Channel,
		"thread_root", req.ThreadRoot,
		"top_level", req.IsTopLevel(),
	)
	writeAck(w)
}

func (in *Intake) recordDuplicate(envelope event.Envelope, ev event.Event, start time.Time) {
	threadRoot := strings.TrimSpace(ev.ThreadTS)
	if threadRoot == "" {
		threadRoot = strings.TrimSpace(ev.TS)
	}
	correlationID := newCorrelationID()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := in.audit.Append(ctx, audit.Record{
		CorrelationID: correlationID,
		EventID:       strings.TrimSpace(envelope.EventID),
		Channel:       strings.TrimSpace(ev.Channel),
		Requestor:     strings.TrimSpace(ev.User),
		QueryText:     event.StripMention(ev.Text),
		ThreadRoot:    threadRoot,
		Outcome:       audit.OutcomeDuplicateSuppressed,
		LatencyMS:     in.nowFn().Sub(start).Milliseconds(),
		CreatedAt:     in.nowFn(),
	})
	if err != nil {
		in.logger.Warn("audit_append_error", "correlation_id", correlationID, "event_id", strings.TrimSpace(envelope.EventID), "error", err.Error())
	}
	in.logger.Debug("event_deduped",
		"correlation_id", correlationID,
		"event_id", strings.TrimSpace(envelope.EventID),
		"channel", strings.TrimSpace(ev.Channel),
	)
}

func newCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func writeAck(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
