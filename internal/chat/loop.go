package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/metrics"
	"github.com/kidsclubplans/kcp/internal/tools"
)

// DefaultMaxIterations bounds the provider rounds of one request.
const DefaultMaxIterations = 10

// ErrorTypeTool tags error events for failed tool executions.
const ErrorTypeTool = "tool"

// LoopConfig tunes a Loop.
type LoopConfig struct {
	Model           string
	MaxIterations   int
	MaxOutputTokens int
	Temperature     float32
	// ConcurrentTools runs the calls of one round in parallel. Events and
	// tool messages keep call order either way.
	ConcurrentTools bool
}

// Loop drives the provider and tool rounds of one chat request. A Loop is
// safe for concurrent use; all per-request state lives in loopState.
type Loop struct {
	provider llm.Provider
	executor *tools.Executor
	cfg      LoopConfig
	logger   *slog.Logger
	metrics  *metrics.Registry
}

// NewLoop creates a loop. A nil logger uses slog.Default and a nil registry
// uses metrics.Default.
func NewLoop(provider llm.Provider, executor *tools.Executor, cfg LoopConfig, logger *slog.Logger, reg *metrics.Registry) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.Default
	}
	return &Loop{provider: provider, executor: executor, cfg: cfg, logger: logger, metrics: reg}
}

type loopPhase int

const (
	phaseAwaitingModel loopPhase = iota
	phaseStreaming
	phaseToolsPending
	phaseExecutingTools
	phaseFailed
	phaseDone
)

func (p loopPhase) String() string {
	switch p {
	case phaseAwaitingModel:
		return "awaiting_model"
	case phaseStreaming:
		return "streaming"
	case phaseToolsPending:
		return "tools_pending"
	case phaseExecutingTools:
		return "executing_tools"
	case phaseFailed:
		return "failed"
	default:
		return "done"
	}
}

type loopState struct {
	messages      []llm.Message
	iteration     int
	maxIterations int
}

// round is what one provider call produced.
type round struct {
	text  string
	calls []llm.ToolCall
}

// Outcome reports how a loop run ended.
type Outcome struct {
	// Messages is the full conversation including every assistant and tool
	// message appended by the run.
	Messages   []llm.Message
	Iterations int
	Text       string
	ToolCalls  int
	Capped     bool
	// Err is the provider failure, context error or emit failure that ended
	// the run, if any.
	Err error
	// Disconnected is set when the emitter failed.
	Disconnected bool
}

// emitError marks a failed write to the client.
type emitError struct{ err error }

func (e *emitError) Error() string { return "emit event: " + e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// Run executes rounds until the model answers without tool calls, the
// iteration cap is hit, the provider fails or ctx ends. It does not emit
// the done event; the caller owns stream termination.
func (l *Loop) Run(ctx context.Context, messages []llm.Message, ec *tools.ExecutionContext, emit Emitter) *Outcome {
	st := &loopState{
		messages:      append([]llm.Message(nil), messages...),
		maxIterations: l.cfg.MaxIterations,
	}
	out := &Outcome{}
	var cur *round

	phase := phaseAwaitingModel
	for {
		l.logger.Debug("chat loop", "phase", phase.String(), "iteration", st.iteration)
		switch phase {
		case phaseAwaitingModel:
			if err := ctx.Err(); err != nil {
				out.Err = err
				phase = phaseFailed
				continue
			}
			st.iteration++
			phase = phaseStreaming

		case phaseStreaming:
			r, err := l.stream(ctx, st, emit)
			if err != nil {
				out.Err = err
				phase = phaseFailed
				continue
			}
			cur = r
			if len(r.calls) == 0 {
				if r.text != "" {
					st.messages = append(st.messages, llm.AssistantText(r.text))
				}
				out.Text = r.text
				phase = phaseDone
				continue
			}
			phase = phaseToolsPending

		case phaseToolsPending:
			if st.iteration >= st.maxIterations {
				l.logger.Warn("chat loop hit iteration cap", "max_iterations", st.maxIterations, "pending_calls", len(cur.calls))
				out.Capped = true
				if err := emit(ContentEvent(capMessage(st.maxIterations))); err != nil {
					out.Err = &emitError{err}
				}
				phase = phaseDone
				continue
			}
			st.messages = append(st.messages, llm.AssistantToolCalls(cur.text, cur.calls))
			phase = phaseExecutingTools

		case phaseExecutingTools:
			var err error
			if l.cfg.ConcurrentTools && len(cur.calls) > 1 {
				err = l.executeConcurrent(ctx, st, cur.calls, ec, emit)
			} else {
				err = l.executeSequential(ctx, st, cur.calls, ec, emit)
			}
			out.ToolCalls += len(cur.calls)
			if err != nil {
				out.Err = err
				phase = phaseFailed
				continue
			}
			phase = phaseAwaitingModel

		case phaseFailed:
			l.fail(ctx, out, emit)
			phase = phaseDone

		case phaseDone:
			out.Messages = st.messages
			out.Iterations = st.iteration
			return out
		}
	}
}

// fail reports a terminal error to the client. Client disconnects and
// cancellations are not reported since nobody is listening.
func (l *Loop) fail(ctx context.Context, out *Outcome, emit Emitter) {
	var ee *emitError
	if errors.As(out.Err, &ee) {
		out.Disconnected = true
		l.logger.Info("client went away", "error", ee.err)
		return
	}
	if errors.Is(out.Err, context.Canceled) && ctx.Err() != nil {
		l.logger.Info("chat request cancelled")
		return
	}

	kind := llm.ClassifyError(out.Err)
	l.metrics.Incr(metrics.ChatStreamErrors)
	l.metrics.Incr(metrics.ProviderErrors(l.provider.Name()))
	l.metrics.Incr(metrics.ErrorType(string(kind)))
	l.logger.Error("provider failed", "provider", l.provider.Name(), "error_type", kind, "error", out.Err)

	msg := fmt.Sprintf("%s failed: %v", l.provider.Name(), out.Err)
	var ce *llm.ClassifiedError
	if errors.As(out.Err, &ce) {
		msg = fmt.Sprintf("%s failed after retries: %v", l.provider.Name(), ce.Err)
	}
	if err := emit(ErrorEvent(msg, string(kind))); err != nil {
		out.Disconnected = true
	}
}

func capMessage(n int) string {
	return fmt.Sprintf("\n\nI stopped after %d rounds of tool calls for this request. "+
		"Here is what I have so far; ask me to continue if you need more.", n)
}

// stream runs one provider call, forwarding text as it arrives and
// assembling tool calls.
func (l *Loop) stream(ctx context.Context, st *loopState, emit Emitter) (*round, error) {
	req := llm.Request{
		Model:             l.cfg.Model,
		Messages:          st.messages,
		Tools:             l.executor.Registry().Specs(),
		ToolChoice:        llm.ToolChoice{Mode: llm.ToolChoiceAuto},
		ParallelToolCalls: true,
		MaxOutputTokens:   l.cfg.MaxOutputTokens,
		Temperature:       l.cfg.Temperature,
	}
	l.metrics.Incr(metrics.LLMRequests)
	l.metrics.Incr(metrics.LLMRequestsFor(l.provider.Name()))

	stream, err := l.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	asm := llm.NewToolCallAssembler()
	var text strings.Builder
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if asm.Handle(ev) {
			continue
		}
		switch ev.Type {
		case llm.EventTextDelta:
			if ev.Text == "" {
				continue
			}
			text.WriteString(ev.Text)
			if err := emit(ContentEvent(ev.Text)); err != nil {
				return nil, &emitError{err}
			}
		case llm.EventTurnEnd:
			asm.Done()
		case llm.EventError:
			if ev.Err != nil {
				return nil, ev.Err
			}
		case llm.EventRetry:
			l.logger.Warn("retrying provider call",
				"provider", l.provider.Name(),
				"attempt", ev.RetryAttempt,
				"max_attempts", ev.RetryMaxAttempts,
				"error_type", ev.RetryKind,
				"wait_seconds", ev.RetryWaitSecs)
		case llm.EventUsage:
			if ev.Use != nil {
				l.logger.Debug("usage", "iteration", st.iteration, "input_tokens", ev.Use.InputTokens, "output_tokens", ev.Use.OutputTokens)
			}
		}
	}
	asm.Done()
	return &round{text: text.String(), calls: asm.Calls()}, nil
}

func (l *Loop) executeSequential(ctx context.Context, st *loopState, calls []llm.ToolCall, ec *tools.ExecutionContext, emit Emitter) error {
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(ToolCallEvent(call.ID, call.Name, llm.ParseArguments(call.Arguments))); err != nil {
			return &emitError{err}
		}
		res := l.executor.Execute(ctx, call.Name, call.Arguments, ec)
		if err := l.fold(st, call, res, emit); err != nil {
			return err
		}
	}
	return nil
}

// executeConcurrent announces every call, runs them in parallel and folds
// the results back in call order.
func (l *Loop) executeConcurrent(ctx context.Context, st *loopState, calls []llm.ToolCall, ec *tools.ExecutionContext, emit Emitter) error {
	for _, call := range calls {
		if err := emit(ToolCallEvent(call.ID, call.Name, llm.ParseArguments(call.Arguments))); err != nil {
			return &emitError{err}
		}
	}

	results := make([]tools.Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = l.executor.Execute(gctx, call.Name, call.Arguments, ec)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, call := range calls {
		if err := l.fold(st, call, results[i], emit); err != nil {
			return err
		}
	}
	return nil
}

// fold appends the tool message for one call and reports failures to the
// client without stopping the loop.
func (l *Loop) fold(st *loopState, call llm.ToolCall, res tools.Result, emit Emitter) error {
	l.metrics.Incr(metrics.ToolCalls)
	st.messages = append(st.messages, llm.ToolResultMessage(call.ID, call.Name, res.Content(), !res.Success))
	if res.Success {
		return nil
	}
	l.metrics.Incr(metrics.ToolErrors)
	if err := emit(ErrorEvent(fmt.Sprintf("Tool %s failed: %s", call.Name, res.ErrorMessage), ErrorTypeTool)); err != nil {
		return &emitError{err}
	}
	return nil
}
