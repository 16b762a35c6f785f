package dispatch

import (
	"context"
	"fmt"

	"survey-caller/internal/calls"
)

// DemoDispatcher simulates a placed call. Nothing leaves the process.
type DemoDispatcher struct{}

func (DemoDispatcher) Backend() calls.Backend { return calls.BackendDemo }

func (DemoDispatcher) StartCall(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{
		ProviderRef:     fmt.Sprintf("DEMO-%d", req.CallID),
		ConversationRef: fmt.Sprintf("demo-conv-%d", req.CallID),
	}, nil
}
