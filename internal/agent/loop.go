// Package agent implements the research loop: a DECIDE/ACT cycle that
// alternates model calls with tool execution until the model answers
// without requesting tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/quill/internal/conversation"
	"github.com/nugget/quill/internal/events"
	"github.com/nugget/quill/internal/gateway"
	"github.com/nugget/quill/internal/guardrail"
	"github.com/nugget/quill/internal/prompts"
	"github.com/nugget/quill/internal/tools"
	"github.com/nugget/quill/internal/usage"
)

// FinishReason explains why a run ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishGuardrail     FinishReason = "guardrail"
	FinishConfirmation  FinishReason = "confirmation"
	FinishMaxIterations FinishReason = "max_iterations"
	FinishCanceled      FinishReason = "canceled"
	FinishError         FinishReason = "error"
)

// Defaults used when Config fields are zero.
const (
	DefaultMaxIterations    = 10
	DefaultToolTimeout      = 30 * time.Second
	DefaultMaxParallelTools = 4
)

// Resolver binds logical model names. *gateway.Gateway implements it.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*gateway.Binding, error)
}

// UsageRecorder persists per-call token usage. *usage.Store implements it.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Request is one research request.
type Request struct {
	ConversationID string
	// Model is the logical model name. Empty selects the default.
	Model string
	// Turns is the full history, ending with the new user turn.
	Turns []conversation.Turn
	// Source tags usage records, e.g. "api" or "cli".
	Source string
	// RequestID correlates logs, events and usage with the caller's own
	// ID. An empty or malformed value is replaced by a generated one.
	RequestID string
}

// Result is the outcome of a run. It is returned even when Run fails so
// callers can keep the turns appended before the failure.
type Result struct {
	RequestID string
	// Turns is the request history plus every appended turn.
	Turns []conversation.Turn
	// Appended holds only the turns this run added.
	Appended     []conversation.Turn
	Iterations   int
	Usage        gateway.Usage
	Model        string // backend that served the request
	FellBack     bool
	FinishReason FinishReason
	Elapsed      time.Duration
}

// Reply returns the text of the last assistant turn.
func (r *Result) Reply() string {
	for i := len(r.Turns) - 1; i >= 0; i-- {
		if r.Turns[i].Role == conversation.RoleAssistant {
			return r.Turns[i].Content.Text()
		}
	}
	return ""
}

// Config bounds a Loop.
type Config struct {
	MaxIterations    int
	ToolTimeout      time.Duration
	MaxParallelTools int
	Guardrail        *guardrail.Filter
}

// Loop runs research requests.
type Loop struct {
	logger   *slog.Logger
	resolver Resolver
	registry *tools.Registry
	cfg      Config
	events   *events.Bus
	usage    UsageRecorder
}

// Option configures a Loop.
type Option func(*Loop)

// WithEvents publishes loop events to bus.
func WithEvents(bus *events.Bus) Option {
	return func(l *Loop) { l.events = bus }
}

// WithUsage records token usage for every model call.
func WithUsage(rec UsageRecorder) Option {
	return func(l *Loop) { l.usage = rec }
}

// NewLoop creates a research loop.
func NewLoop(logger *slog.Logger, resolver Resolver, registry *tools.Registry, cfg Config, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = DefaultMaxParallelTools
	}
	if cfg.Guardrail == nil {
		cfg.Guardrail = guardrail.Default()
	}
	l := &Loop{
		logger:   logger.With("component", "agent"),
		resolver: resolver,
		registry: registry,
		cfg:      cfg,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// maxRequestIDLen bounds caller-supplied request IDs.
const maxRequestIDLen = 64

// requestID returns supplied when it is a usable ID (up to 64 letters,
// digits, '.', '_' or '-') and otherwise r_ plus eight hex characters.
func requestID(supplied string) string {
	if validRequestID(supplied) {
		return supplied
	}
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// run carries per-request state.
type run struct {
	*Loop
	req    Request
	res    *Result
	log    *slog.Logger
	start  time.Time
	tokens gateway.Usage
}

func (r *run) append(t conversation.Turn) {
	r.res.Turns = append(r.res.Turns, t)
	r.res.Appended = append(r.res.Appended, t)
}

// Run executes the DECIDE/ACT cycle for one request. It always returns a
// non-nil Result. A non-nil error means the request failed (model
// backend unavailable or erroring, or ctx canceled) and the Result holds
// the turns appended before the failure.
func (l *Loop) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		Loop:  l,
		req:   req,
		start: time.Now(),
		res: &Result{
			RequestID: requestID(req.RequestID),
			Turns:     conversation.Clone(req.Turns),
		},
	}
	r.log = l.logger.With("request_id", r.res.RequestID, "conversation_id", req.ConversationID)

	ctx = tools.WithConversationID(ctx, req.ConversationID)
	ctx = tools.WithRequestID(ctx, r.res.RequestID)

	l.events.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id":      r.res.RequestID,
		"conversation_id": req.ConversationID,
		"model":           req.Model,
	})
	r.log.Info("research request started", "model", req.Model, "history", len(req.Turns))

	err := r.loop(ctx)
	r.finish(err)
	return r.res, err
}

func (r *run) loop(ctx context.Context) error {
	if n := len(r.res.Turns); n > 0 && r.res.Turns[n-1].Role == conversation.RoleUser {
		if stop := r.screen(r.res.Turns[n-1]); stop {
			return nil
		}
	}

	binding, err := r.resolver.Resolve(ctx, r.req.Model)
	if err != nil {
		r.res.FinishReason = FinishError
		return fmt.Errorf("resolve model %q: %w", r.req.Model, err)
	}
	r.res.Model = binding.Backend
	r.res.FellBack = binding.FellBack

	for {
		if err := ctx.Err(); err != nil {
			r.res.FinishReason = FinishCanceled
			return err
		}
		if r.res.Iterations >= r.cfg.MaxIterations {
			r.append(conversation.AssistantTurn(prompts.PartialResult(r.cfg.MaxIterations, r.progressSummary())))
			r.res.FinishReason = FinishMaxIterations
			r.log.Warn("iteration limit reached", "max_iterations", r.cfg.MaxIterations)
			return nil
		}

		turn, err := r.decide(ctx, binding)
		if err != nil {
			if ctx.Err() != nil {
				r.res.FinishReason = FinishCanceled
				return ctx.Err()
			}
			r.res.FinishReason = FinishError
			return err
		}

		if !turn.HasToolCalls() {
			if strings.TrimSpace(turn.Content.Text()) == "" {
				turn.Content = conversation.Text(prompts.EmptyResponseFallback)
			}
			r.append(turn)
			r.res.FinishReason = FinishStop
			return nil
		}
		r.append(turn)

		if err := ctx.Err(); err != nil {
			r.res.FinishReason = FinishCanceled
			return err
		}
		for _, result := range r.act(ctx, turn.ToolCalls) {
			r.append(result)
		}
	}
}

// screen runs the guardrail on a user turn and appends the refusal or
// confirmation request when the message may not proceed.
func (r *run) screen(t conversation.Turn) bool {
	v := r.cfg.Guardrail.Evaluate(t.Content)
	if v.Proceed() {
		return false
	}
	r.append(conversation.AssistantTurn(v.Message()))
	if v.Allowed {
		r.res.FinishReason = FinishConfirmation
	} else {
		r.res.FinishReason = FinishGuardrail
	}
	r.log.Info("message stopped before model", "reason", r.res.FinishReason, "keyword", v.Keyword)
	r.events.Emit(events.SourceAgent, events.KindGuardrail, map[string]any{
		"request_id":      r.res.RequestID,
		"conversation_id": r.req.ConversationID,
		"reason":          v.Message(),
		"confirmation":    v.RequiresConfirmation,
	})
	return true
}

// decide makes one model call over the history so far.
func (r *run) decide(ctx context.Context, b *gateway.Binding) (conversation.Turn, error) {
	iter := r.res.Iterations
	r.res.Iterations++

	r.events.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
		"request_id": r.res.RequestID,
		"iter":       iter,
		"model":      b.Model,
	})

	turn, u, err := b.Invoke(ctx, r.res.Turns)
	if err != nil {
		r.log.Error("model call failed", "iter", iter, "backend", b.Backend, "error", err)
		return conversation.Turn{}, fmt.Errorf("model %s: %w", b.Backend, err)
	}
	r.tokens.Add(u)

	cost := usage.ComputeCost(u.Model, u.InputTokens, u.OutputTokens, usage.DefaultPricing)
	r.log.Debug("model responded",
		"iter", iter,
		"model", u.Model,
		"tokens_in", u.InputTokens,
		"tokens_out", u.OutputTokens,
		"tool_calls", len(turn.ToolCalls),
	)
	r.events.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
		"request_id": r.res.RequestID,
		"iter":       iter,
		"model":      u.Model,
		"tokens_in":  u.InputTokens,
		"tokens_out": u.OutputTokens,
		"cost_usd":   cost,
		"tool_calls": len(turn.ToolCalls),
	})

	if r.usage != nil {
		rec := usage.Record{
			RequestID:      r.res.RequestID,
			ConversationID: r.req.ConversationID,
			Model:          u.Model,
			Provider:       u.Provider,
			InputTokens:    u.InputTokens,
			OutputTokens:   u.OutputTokens,
			CostUSD:        cost,
			Estimated:      u.Estimated,
			Source:         r.req.Source,
		}
		// A failed usage write does not fail the request.
		if err := r.usage.Record(context.WithoutCancel(ctx), rec); err != nil {
			r.log.Warn("failed to record usage", "error", err)
		}
	}
	return turn, nil
}

// progressSummary describes what the run found before hitting the
// iteration limit: the latest assistant text if any, else the tools
// that returned results.
func (r *run) progressSummary() string {
	for i := len(r.res.Appended) - 1; i >= 0; i-- {
		t := r.res.Appended[i]
		if t.Role == conversation.RoleAssistant {
			if text := strings.TrimSpace(t.Content.Text()); text != "" {
				return text
			}
		}
	}

	var parts []string
	for _, t := range r.res.Appended {
		if t.Role != conversation.RoleTool || t.IsError {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s returned %s", t.Name, truncate(t.Content.Text(), 200)))
	}
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	return strings.Join(parts, "; ")
}

func (r *run) finish(err error) {
	r.res.Usage = r.tokens
	r.res.Elapsed = time.Since(r.start)

	attrs := []any{
		"finish_reason", r.res.FinishReason,
		"iterations", r.res.Iterations,
		"appended", len(r.res.Appended),
		"tokens_in", r.tokens.InputTokens,
		"tokens_out", r.tokens.OutputTokens,
		"elapsed", r.res.Elapsed.Round(time.Millisecond),
	}
	switch {
	case err == nil:
		r.log.Info("research request completed", attrs...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.log.Info("research request canceled", attrs...)
	default:
		r.log.Error("research request failed", append(attrs, "error", err)...)
	}

	r.events.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id":       r.res.RequestID,
		"model":            r.res.Model,
		"iterations":       r.res.Iterations,
		"finish_reason":    string(r.res.FinishReason),
		"total_tokens_in":  r.tokens.InputTokens,
		"total_tokens_out": r.tokens.OutputTokens,
		"elapsed_ms":       r.res.Elapsed.Milliseconds(),
	})
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
