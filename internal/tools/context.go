package tools

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kidsclubplans/kcp/internal/rag"
	"github.com/kidsclubplans/kcp/internal/store"
	"github.com/kidsclubplans/kcp/internal/weather"
)

// ActivityStore is the catalog access the tools need.
type ActivityStore interface {
	GetActivity(ctx context.Context, id string) (*store.Activity, error)
	FindActivityByTitle(ctx context.Context, title string) (*store.Activity, error)
}

// Indexer persists an activity and makes it searchable.
type Indexer interface {
	Index(ctx context.Context, a *store.Activity) error
}

// ProfileStore reads user profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
}

// ExecutionContext carries the per-request handles tools run against. It is
// built fresh for every chat request and never shared between loops; the
// tool calls of one round may use it concurrently.
type ExecutionContext struct {
	UserID    string
	SessionID string

	Activities ActivityStore
	Search     rag.Searcher
	Indexer    Indexer
	Weather    weather.Checker
	Profiles   ProfileStore

	Logger *slog.Logger
	// Rand shuffles schedule candidates; nil uses the global source.
	Rand *rand.Rand
	Now  func() time.Time

	randMu sync.Mutex
}

func (ec *ExecutionContext) logger() *slog.Logger {
	if ec == nil || ec.Logger == nil {
		return slog.Default()
	}
	return ec.Logger
}

func (ec *ExecutionContext) now() time.Time {
	if ec == nil || ec.Now == nil {
		return time.Now()
	}
	return ec.Now()
}

func (ec *ExecutionContext) shuffle(n int, swap func(i, j int)) {
	if ec != nil && ec.Rand != nil {
		ec.randMu.Lock()
		defer ec.randMu.Unlock()
		ec.Rand.Shuffle(n, swap)
		return
	}
	rand.Shuffle(n, swap)
}

func (ec *ExecutionContext) userID() string {
	if ec == nil || ec.UserID == "" {
		return "anonymous"
	}
	return ec.UserID
}
