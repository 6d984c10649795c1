package tools

import (
	"fmt"
	"sync"

	"github.com/kidsclubplans/kcp/internal/llm"
)

// Registry maps tool names to handlers. It is filled once at startup and
// frozen before any request is served.
type Registry struct {
	mu     sync.RWMutex
	frozen bool
	order  []string
	tools  map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Handler)}
}

// Register adds a handler under its spec name. Registering after Freeze or
// registering a name twice is a programming error and panics.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("tools: Register called after Freeze")
	}
	name := h.Spec().Name
	if name == "" {
		panic("tools: handler spec has no name")
	}
	if _, dup := r.tools[name]; dup {
		panic(fmt.Sprintf("tools: duplicate tool %q", name))
	}
	r.tools[name] = h
	r.order = append(r.order, name)
}

// Freeze makes the registry read-only and returns it.
func (r *Registry) Freeze() *Registry {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
	return r
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tools[name]
	return h, ok
}

// Specs returns the tool schemas in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// DefaultRegistry returns a frozen registry holding every planning tool.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewSearchActivitiesTool())
	r.Register(NewCheckWeatherTool())
	r.Register(NewGenerateScheduleTool())
	r.Register(NewBlendActivitiesTool())
	r.Register(NewAnalyzeDatabaseGapsTool())
	r.Register(NewGenerateFromSuppliesTool())
	r.Register(NewSaveActivityTool())
	return r.Freeze()
}
