// Package inproc is the bundled stand-in membrane. It runs the guest "handler" as a
// plain in-process Go closure instead of crossing into a real FFI guest;
// only the contract (internal/membrane) is part of the core, not any
// particular guest-language bridge.
package inproc

import (
	"context"

	"github.com/webitel/actorcore/internal/membrane"
)

// Push wraps a plain Go function as a membrane.PushHandler.
func Push(fn func(ctx context.Context, payload []byte) error) membrane.PushHandler {
	return membrane.PushHandlerFunc(fn)
}

// pullFunc adapts a step function into a membrane.PullHandler.
type pullFunc struct {
	step func(ctx context.Context, ev membrane.PullEvent) (membrane.PullResult, error)
}

func (p *pullFunc) Step(ctx context.Context, ev membrane.PullEvent) (membrane.PullResult, error) {
	return p.step(ctx, ev)
}

// Pull wraps a plain Go step function as a membrane.PullHandler.
func Pull(step func(ctx context.Context, ev membrane.PullEvent) (membrane.PullResult, error)) membrane.PullHandler {
	return &pullFunc{step: step}
}
