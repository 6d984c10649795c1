package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/memory"
	"github.com/kidsclubplans/kcp/internal/metrics"
	"github.com/kidsclubplans/kcp/internal/rag"
	"github.com/kidsclubplans/kcp/internal/store"
	"github.com/kidsclubplans/kcp/internal/tools"
	"github.com/kidsclubplans/kcp/internal/weather"
)

// DefaultRAGLimit is how many activities are prefetched for the prompt.
const DefaultRAGLimit = 3

// NotConfiguredMessage is streamed when no provider is available.
const NotConfiguredMessage = "AI service not configured. Please set OPENAI_API_KEY or ANTHROPIC_API_KEY."

var errClientGone = errors.New("client disconnected")

// Message is one chat message sent by the client.
type Message struct {
	Role      string `json:"role" validate:"required,oneof=user assistant"`
	Content   string `json:"content" validate:"required"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Request is an inbound chat request.
type Request struct {
	Messages       []Message `json:"messages" validate:"required,min=1,max=100,dive"`
	UserID         string    `json:"user_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Stream         bool      `json:"stream"`
}

// LastUserMessage returns the newest user message content.
func (r Request) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Memory is the user memory the service reads and updates.
type Memory interface {
	UserContext(ctx context.Context, userID string) (memory.UserContext, error)
	AddInteraction(ctx context.Context, userID, query string, activities []store.Activity, sessionID string) error
}

// Config tunes a Service.
type Config struct {
	Loop     LoopConfig
	RAGLimit int
}

// Deps are the collaborators of a Service. Provider, Search and Memory may
// be nil.
type Deps struct {
	Provider llm.Provider
	Executor *tools.Executor
	Search   rag.Searcher
	Memory   Memory

	Activities tools.ActivityStore
	Indexer    tools.Indexer
	Weather    weather.Checker
	Profiles   tools.ProfileStore

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Service answers chat requests: it builds the prompt, prefetches related
// activities, runs the loop and records the interaction.
type Service struct {
	cfg  Config
	deps Deps
	loop *Loop
}

func NewService(cfg Config, deps Deps) *Service {
	if cfg.RAGLimit <= 0 {
		cfg.RAGLimit = DefaultRAGLimit
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default
	}
	if deps.Executor == nil {
		deps.Executor = tools.NewExecutor(tools.DefaultRegistry(), 0)
	}
	s := &Service{cfg: cfg, deps: deps}
	if deps.Provider != nil {
		s.loop = NewLoop(deps.Provider, deps.Executor, cfg.Loop, deps.Logger, deps.Metrics)
	}
	return s
}

// Configured reports whether an LLM provider is available.
func (s *Service) Configured() bool {
	return s.loop != nil
}

// Run streams the answer to req through emit. The last event is always a
// single done event.
func (s *Service) Run(ctx context.Context, req Request, emit Emitter) *Outcome {
	start := time.Now()
	s.deps.Metrics.Incr(metrics.ChatRequests)

	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}
	logger := s.deps.Logger.With("user_id", userID, "session_id", req.SessionID)

	gone := false
	send := func(ev Event) error {
		if gone {
			return errClientGone
		}
		if err := emit(ev); err != nil {
			gone = true
			return err
		}
		return nil
	}

	var userContext any
	if s.deps.Memory != nil {
		uc, err := s.deps.Memory.UserContext(ctx, userID)
		if err != nil {
			logger.Warn("load user context", "error", err)
		} else {
			userContext = uc
		}
	}
	system := SystemPrompt(userContext)

	last := req.LastUserMessage()
	var found []store.Activity
	if s.deps.Search != nil && last != "" {
		acts, err := s.deps.Search.Search(ctx, last, s.cfg.RAGLimit, rag.Filters{})
		if err != nil {
			kind := llm.ClassifyError(err)
			s.deps.Metrics.Incr(metrics.RAGErrors)
			s.deps.Metrics.Incr(metrics.ErrorType(string(kind)))
			logger.Warn("rag lookup failed", "error_type", kind, "error", err)
			_ = send(ErrorEvent("RAG error: "+err.Error(), string(kind)))
		} else if len(acts) > 0 {
			found = acts
			system += rag.FormatForPrompt(acts)
			for _, a := range acts {
				if send(ActivityEvent(a)) != nil {
					break
				}
			}
		}
	}

	messages := make([]llm.Message, 0, len(req.Messages)+1)
	messages = append(messages, llm.SystemText(system))
	for _, m := range req.Messages {
		if m.Role == "assistant" {
			messages = append(messages, llm.AssistantText(m.Content))
		} else {
			messages = append(messages, llm.UserText(m.Content))
		}
	}

	var out *Outcome
	switch {
	case gone:
		out = &Outcome{Messages: messages, Err: errClientGone, Disconnected: true}
	case s.loop == nil:
		s.deps.Metrics.Incr(metrics.LLMNotConfigured)
		_ = send(ContentEvent(NotConfiguredMessage))
		out = &Outcome{Messages: messages}
	default:
		logger.Info("llm stream start", "provider", s.deps.Provider.Name())
		ec := &tools.ExecutionContext{
			UserID:     userID,
			SessionID:  req.SessionID,
			Activities: s.deps.Activities,
			Search:     s.deps.Search,
			Indexer:    s.deps.Indexer,
			Weather:    s.deps.Weather,
			Profiles:   s.deps.Profiles,
			Logger:     logger,
		}
		out = s.loop.Run(ctx, messages, ec, send)
	}

	if s.deps.Memory != nil && last != "" {
		if err := s.deps.Memory.AddInteraction(context.WithoutCancel(ctx), userID, last, found, req.SessionID); err != nil {
			logger.Warn("record interaction", "error", err)
		}
	}

	convID := req.ConversationID
	if convID == "" {
		convID = req.SessionID
	}
	_ = send(DoneEvent(convID))
	s.deps.Metrics.Incr(metrics.ChatCompletions)
	logger.Info("chat stream complete",
		"conversation_id", convID,
		"iterations", out.Iterations,
		"tool_calls", out.ToolCalls,
		"capped", out.Capped,
		"disconnected", gone,
		"duration", time.Since(start))
	return out
}
