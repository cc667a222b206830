package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/quailyquaily/finnygate/internal/event"
	"github.com/quailyquaily/finnygate/internal/recordstore"
)

// refPattern matches record references like BILL-1042, PAY-77 or VB-203.
var refPattern = regexp.MustCompile(`\b[A-Z]{2,8}-\d+\b`)

// Keys rendered first when present, in this order; anything else follows
// alphabetically.
var preferredFields = []string{"status", "amount", "vendor", "due_date", "updated_at"}

const fallbackAnswer = "I can help with payment and contract status. " +
	"Ask me about a specific record, e.g. \"what's the status of BILL-1042?\""

type LookupRunnerOptions struct {
	Records *recordstore.Client
	Logger  *slog.Logger
}

// LookupRunner answers status questions by fetching the referenced
// record from the record-store collaborator and summarizing it.
type LookupRunner struct {
	records *recordstore.Client
	logger  *slog.Logger
}

func NewLookupRunner(opts LookupRunnerOptions) (*LookupRunner, error) {
	if opts.Records == nil {
		return nil, fmt.Errorf("record store client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LookupRunner{records: opts.Records, logger: logger}, nil
}

func (r *LookupRunner) Run(ctx context.Context, req event.NormalizedRequest) (string, error) {
	if r == nil || r.records == nil {
		return "", fmt.Errorf("lookup runner is not initialized")
	}
	ref := strings.TrimSpace(refPattern.FindString(req.QueryText))
	if ref == "" {
		return fallbackAnswer, nil
	}

	record, err := r.records.Get(ctx, "/records/"+ref, nil)
	if errors.Is(err, recordstore.ErrNotFound) {
		return fmt.Sprintf("I couldn't find a record matching %s. Double-check the id and try again.", ref), nil
	}
	if err != nil {
		return "", err
	}
	r.logger.Debug("record_lookup", "ref", ref, "fields", len(record))
	return renderRecord(ref, record), nil
}

func renderRecord(ref string, record map[string]any) string {
	parts := make([]string, 0, len(record))
	seen := make(map[string]bool, len(record))
	appendField := func(key string) {
		value, ok := record[key]
		if !ok || seen[key] {
			return
		}
		seen[key] = true
		parts = append(parts, fmt.Sprintf("%s: %v", key, value))
	}
	for _, key := range preferredFields {
		appendField(key)
	}
	rest := make([]string, 0, len(record))
	for key := range record {
		if !seen[key] && key != "id" {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		appendField(key)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Here's what I found for %s.", ref)
	}
	return fmt.Sprintf("Here's what I found for %s: %s.", ref, strings.Join(parts, ", "))
}
