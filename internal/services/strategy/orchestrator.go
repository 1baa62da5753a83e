package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/vadiminshakov/stacker/internal/domain"
	"go.uber.org/zap"
)

// Handler executes one strategy action. Handlers report failures through the
// returned result, they never panic on purpose.
type Handler func(ctx context.Context, action domain.StrategyAction) domain.ActionResult

// DedupeJournal persists executed dedupe keys across restarts.
type DedupeJournal interface {
	Append(key string) error
	Keys() ([]string, error)
}

// Orchestrator dispatches decided actions to registered handlers with
// at-most-once semantics per dedupe key.
type Orchestrator struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	handlers map[domain.ActionKind]Handler
	journal  DedupeJournal
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator and hydrates the dedupe set from
// the journal. A nil journal keeps dedupe in memory only.
func NewOrchestrator(logger *zap.Logger, journal DedupeJournal) (*Orchestrator, error) {
	o := &Orchestrator{
		seen:     make(map[string]struct{}),
		handlers: make(map[domain.ActionKind]Handler),
		journal:  journal,
		logger:   logger,
	}

	if journal != nil {
		keys, err := journal.Keys()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			o.seen[key] = struct{}{}
		}
		logger.Info("dedupe journal hydrated", zap.Int("keys", len(keys)))
	}

	return o, nil
}

// Register binds a handler to an action kind, replacing any previous one.
func (o *Orchestrator) Register(kind domain.ActionKind, h Handler) {
	o.mu.Lock()
	o.handlers[kind] = h
	o.mu.Unlock()
}

// Execute runs the actions in order and returns one result per action.
// Duplicates are skipped, missing handlers and handler panics are reported as
// failures; nothing thrown by a handler escapes the loop.
func (o *Orchestrator) Execute(ctx context.Context, actions []domain.StrategyAction) []domain.ActionResult {
	results := make([]domain.ActionResult, 0, len(actions))
	for _, action := range actions {
		results = append(results, o.executeOne(ctx, action))
	}
	return results
}

func (o *Orchestrator) executeOne(ctx context.Context, action domain.StrategyAction) domain.ActionResult {
	o.mu.Lock()
	if _, dup := o.seen[action.DedupeKey]; dup {
		o.mu.Unlock()
		o.logger.Info("duplicate action skipped",
			zap.String("kind", action.Kind.String()),
			zap.String("dedupe_key", action.DedupeKey))
		return domain.Skipped(action, domain.ReasonDuplicateAction, nil)
	}
	handler, ok := o.handlers[action.Kind]
	o.mu.Unlock()

	if !ok {
		o.logger.Error("no handler registered for action kind",
			zap.String("kind", action.Kind.String()))
		return domain.Failed(action, domain.ReasonNoHandler, nil)
	}

	result := o.invoke(ctx, handler, action)

	if result.Status == domain.StatusSuccess {
		o.markExecuted(action.DedupeKey)
	}
	return result
}

func (o *Orchestrator) invoke(ctx context.Context, handler Handler, action domain.StrategyAction) (result domain.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("action handler panicked",
				zap.String("kind", action.Kind.String()),
				zap.String("request_id", action.RequestID),
				zap.Any("panic", r))
			result = domain.Failed(action, fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	return handler(ctx, action)
}

func (o *Orchestrator) markExecuted(key string) {
	if key == "" {
		return
	}
	// Journal before the in-memory update so a crash between the two replays
	// the key on restart instead of losing it.
	if o.journal != nil {
		if err := o.journal.Append(key); err != nil {
			o.logger.Error("failed to journal dedupe key",
				zap.String("dedupe_key", key), zap.Error(err))
		}
	}
	o.mu.Lock()
	o.seen[key] = struct{}{}
	o.mu.Unlock()
}
