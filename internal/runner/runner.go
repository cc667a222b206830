// Package runner defines the agent-runner collaborator boundary: a
// black box that turns a normalized request into reply text within the
// dispatcher's timeout. The pipeline only needs this contract.
package runner

import (
	"context"

	"github.com/quailyquaily/finnygate/internal/event"
)

type Runner interface {
	Run(ctx context.Context, req event.NormalizedRequest) (string, error)
}

// Func adapts a plain function to the Runner interface.
type Func func(ctx context.Context, req event.NormalizedRequest) (string, error)

func (f Func) Run(ctx context.Context, req event.NormalizedRequest) (string, error) {
	return f(ctx, req)
}
