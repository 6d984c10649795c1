package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/kidsclubplans/kcp/internal/llm"
)

// Executor runs registered tools and normalizes every outcome into a Result.
type Executor struct {
	registry *Registry
	timeout  time.Duration
}

// NewExecutor returns an executor over a frozen registry. timeout bounds a
// single tool invocation; zero means no limit beyond the request context.
func NewExecutor(registry *Registry, timeout time.Duration) *Executor {
	return &Executor{registry: registry, timeout: timeout}
}

// Registry returns the executor's registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute invokes the named tool once. It never returns an error: unknown
// tools, handler errors and panics all become failed Results.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage, ec *ExecutionContext) (res Result) {
	if ec == nil {
		ec = &ExecutionContext{}
	}
	res = Result{
		ToolName:   name,
		Parameters: llm.ParseArguments(args),
		ExecutedAt: ec.now(),
	}

	h, ok := e.registry.Get(name)
	if !ok {
		res.ErrorMessage = "unknown tool: " + name
		ec.logger().Warn("unknown tool requested", "tool", name)
		return res
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			ec.logger().Error("tool panicked", "tool", name, "panic", r, "stack", string(debug.Stack()))
			res.Success = false
			res.Result = nil
			res.ErrorMessage = fmt.Sprintf("tool %s panicked: %v", name, r)
		}
	}()

	start := time.Now()
	out, err := h.Execute(ctx, args, ec)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = NewToolErrorf(ErrTimeout, "%s timed out after %s", name, e.timeout)
		}
		ec.logger().Warn("tool failed", "tool", name, "error", err, "duration", time.Since(start))
		res.ErrorMessage = err.Error()
		return res
	}
	ec.logger().Debug("tool executed", "tool", name, "duration", time.Since(start))
	res.Result = out
	res.Success = true
	return res
}
