// Package dispatch owns the concurrency boundary between the webhook
// acknowledgment path and agent processing. Enqueue returns immediately;
// completion is observed only through the audit log (and the posted
// reply). Failures after acknowledgment never travel back to the caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/finnygate/internal/audit"
	"github.com/quailyquaily/finnygate/internal/event"
	"github.com/quailyquaily/finnygate/internal/ratelimit"
	"github.com/quailyquaily/finnygate/internal/runner"
	"github.com/quailyquaily/finnygate/internal/slackapi"
)

const (
	defaultTaskTimeout    = 30 * time.Second
	defaultMaxConcurrency = 3
	defaultQueueSize      = 16
	defaultIdleWorkerTTL  = 5 * time.Minute

	// Posted into the thread when processing fails or produces nothing.
	fallbackReply = "Sorry, I couldn't process that request. Please try again shortly."
)

// ErrQueueFull is returned by Enqueue when the thread's job buffer has no
// room. Callers surface this before acknowledging, so the upstream retry
// is not lost.
var ErrQueueFull = errors.New("dispatch queue is full")

// Poster posts the agent's reply, anchored to a thread root.
type Poster interface {
	PostMessage(ctx context.Context, channelID, text, threadTS string) (slackapi.Message, error)
}

// Job is one normalized event awaiting background processing.
type Job struct {
	CorrelationID string
	EventID       string
	Request       event.NormalizedRequest
}

type Options struct {
	Runner         runner.Runner
	Poster         Poster
	Audit          *audit.Log
	Limiter        *ratelimit.Limiter
	Logger         *slog.Logger
	TaskTimeout    time.Duration
	MaxConcurrency int
	QueueSize      int
	// IdleWorkerTTL retires a thread's worker after this much inactivity
	// so the worker map stays bounded by live threads. Defaults to 5
	// minutes.
	IdleWorkerTTL time.Duration
	Now           func() time.Time
}

// Dispatcher runs one worker goroutine per thread root so jobs sharing a
// thread process in arrival order, while distinct threads run
// concurrently up to MaxConcurrency.
type Dispatcher struct {
	runner      runner.Runner
	poster      Poster
	audit       *audit.Log
	limiter     *ratelimit.Limiter
	logger      *slog.Logger
	taskTimeout time.Duration
	queueSize   int
	idleTTL     time.Duration
	nowFn       func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*threadWorker
	closed  bool
}

type threadWorker struct {
	jobs chan Job
}

func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if opts.Poster == nil {
		return nil, fmt.Errorf("poster is required")
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("audit log is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	taskTimeout := opts.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}
	maxConc := opts.MaxConcurrency
	if maxConc <= 0 {
		maxConc = defaultMaxConcurrency
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	idleTTL := opts.IdleWorkerTTL
	if idleTTL <= 0 {
		idleTTL = defaultIdleWorkerTTL
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Dispatcher{
		runner:      opts.Runner,
		poster:      opts.Poster,
		audit:       opts.Audit,
		limiter:     opts.Limiter,
		logger:      logger,
		taskTimeout: taskTimeout,
		queueSize:   queueSize,
		idleTTL:     idleTTL,
		nowFn:       nowFn,
		sem:         make(chan struct{}, maxConc),
		workers:     make(map[string]*threadWorker),
	}, nil
}

// Enqueue hands job to its thread's worker without waiting on agent
// completion. Returns ErrQueueFull when the thread's buffer is saturated.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	if d == nil {
		return fmt.Errorf("dispatcher is not initialized")
	}
	if ctx == nil {
		return fmt.Errorf("context is required")
	}
	if strings.TrimSpace(job.CorrelationID) == "" {
		return fmt.Errorf("correlation_id is required")
	}
	if strings.TrimSpace(job.Request.ThreadRoot) == "" {
		return fmt.Errorf("thread_root is required")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// The non-blocking send happens under the lock so Close cannot close
	// the channel mid-send.
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("dispatcher is closed")
	}
	w := d.getOrStartWorkerLocked(job.Request.Channel + ":" + job.Request.ThreadRoot)
	select {
	case w.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for in-flight work to drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) getOrStartWorkerLocked(threadKey string) *threadWorker {
	if w, ok := d.workers[threadKey]; ok && w != nil {
		return w
	}
	w := &threadWorker{jobs: make(chan Job, d.queueSize)}
	d.workers[threadKey] = w
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		idle := time.NewTimer(d.idleTTL)
		defer idle.Stop()
		for {
			select {
			case job, ok := <-w.jobs:
				if !ok {
					return
				}
				d.sem <- struct{}{}
				d.process(job)
				<-d.sem
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(d.idleTTL)
			case <-idle.C:
				// Retire only when nothing is queued. Enqueue sends and
				// this check are serialized by the mutex, so no job can
				// land on the channel after the worker leaves the map.
				d.mu.Lock()
				if !d.closed && len(w.jobs) == 0 {
					delete(d.workers, threadKey)
					d.mu.Unlock()
					return
				}
				d.mu.Unlock()
				idle.Reset(d.idleTTL)
			}
		}
	}()
	return w
}

func (d *Dispatcher) process(job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch_panic", "correlation_id", job.CorrelationID, "panic", fmt.Sprint(r))
			d.record(job, audit.OutcomeFailed, fmt.Sprintf("panic: %v", r), 0)
		}
	}()

	req := job.Request
	start := d.nowFn()

	if d.limiter != nil && !d.limiter.Allow(req.Requestor) {
		d.postReply(job, d.limiter.CooldownMessage())
		d.record(job, audit.OutcomeFailed, "rate_limited", d.latencyMS(start))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
	text, runErr := d.runner.Run(ctx, req)
	cancel()

	if runErr != nil {
		reason := "downstream_error"
		if errors.Is(runErr, context.DeadlineExceeded) {
			reason = "processing_timeout"
		}
		d.logger.Warn("dispatch_run_error",
			"correlation_id", job.CorrelationID,
			"channel", req.Channel,
			"thread_root", req.ThreadRoot,
			"reason", reason,
			"error", runErr.Error(),
		)
		d.postReply(job, fallbackReply)
		d.record(job, audit.OutcomeFailed, reason+": "+runErr.Error(), d.latencyMS(start))
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = fallbackReply
	}
	if !d.postReply(job, text) {
		d.record(job, audit.OutcomeFailed, "reply_post_error", d.latencyMS(start))
		return
	}
	d.record(job, audit.OutcomeDelivered, "", d.latencyMS(start))
}

// postReply anchors every outgoing message at the job's thread root, so
// even answers to fresh top-level questions land as threaded replies.
func (d *Dispatcher) postReply(job Job, text string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg, err := d.poster.PostMessage(ctx, job.Request.Channel, text, job.Request.ThreadRoot)
	if err != nil {
		d.logger.Warn("reply_post_error",
			"correlation_id", job.CorrelationID,
			"channel", job.Request.Channel,
			"thread_root", job.Request.ThreadRoot,
			"error", err.Error(),
		)
		return false
	}
	d.logger.Info("reply_posted",
		"correlation_id", job.CorrelationID,
		"channel", msg.Channel,
		"ts", msg.TS,
		"thread_root", job.Request.ThreadRoot,
	)
	return true
}

func (d *Dispatcher) record(job Job, outcome, errText string, latencyMS int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.audit.Append(ctx, audit.Record{
		CorrelationID: job.CorrelationID,
		EventID:       job.EventID,
		Channel:       job.Request.Channel,
		Requestor:     job.Request.Requestor,
		QueryText:     job.Request.QueryText,
		ThreadRoot:    job.Request.ThreadRoot,
		Outcome:       outcome,
		Error:         errText,
		LatencyMS:     latencyMS,
		CreatedAt:     d.nowFn(),
	})
	if err != nil {
		d.logger.Warn("audit_append_error", "correlation_id", job.CorrelationID, "error", err.Error())
	}
}

func (d *Dispatcher) latencyMS(start time.Time) int64 {
	return d.nowFn().Sub(start).Milliseconds()
}
