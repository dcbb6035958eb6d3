package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/quill/internal/conversation"
	"github.com/nugget/quill/internal/events"
)

// act runs every tool call and returns one tool turn per call in call
// order. Calls run concurrently up to MaxParallelTools. Failures become
// error turns; act itself never fails.
func (r *run) act(ctx context.Context, calls []conversation.ToolCall) []conversation.Turn {
	results := make([]conversation.Turn, len(calls))

	var g errgroup.Group
	g.SetLimit(r.cfg.MaxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type toolOutcome struct {
	result string
	err    error
}

// execute runs one tool call under the per-call timeout.
func (r *run) execute(ctx context.Context, call conversation.ToolCall) conversation.Turn {
	start := time.Now()
	log := r.log.With("tool", call.Name, "call_id", call.ID)

	r.events.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"request_id": r.res.RequestID,
		"tool":       call.Name,
		"call_id":    call.ID,
	})

	result, err := r.invoke(ctx, call)

	r.events.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"request_id":  r.res.RequestID,
		"tool":        call.Name,
		"call_id":     call.ID,
		"ok":          err == nil,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if err != nil {
		log.Warn("tool call failed", "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
		return conversation.ToolResultTurn(call.ID, call.Name, "Error: "+err.Error(), true)
	}
	log.Debug("tool call completed", "result_len", len(result), "elapsed", time.Since(start).Round(time.Millisecond))
	return conversation.ToolResultTurn(call.ID, call.Name, result, false)
}

func (r *run) invoke(ctx context.Context, call conversation.ToolCall) (string, error) {
	if call.Malformed() {
		return "", fmt.Errorf("invalid arguments for tool %s: %s", call.Name, call.RawArguments)
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	tctx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
	defer cancel()

	// The timeout holds even for handlers that ignore tctx.
	done := make(chan toolOutcome, 1)
	go func() {
		res, err := r.registry.Invoke(tctx, call.Name, args)
		done <- toolOutcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("tool %s timed out after %s", call.Name, r.cfg.ToolTimeout)
		}
		return out.result, out.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return "", fmt.Errorf("tool %s canceled: %w", call.Name, ctx.Err())
		}
		return "", fmt.Errorf("tool %s timed out after %s", call.Name, r.cfg.ToolTimeout)
	}
}
