package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/argus/internal/domain/orchestration"
)

// HookPoint names a place in the orchestration lifecycle where hooks run.
type HookPoint string

const (
	HookPreOrchestration  HookPoint = "pre_orchestration"
	HookPostOrchestration HookPoint = "post_orchestration"
	HookPrePhase          HookPoint = "pre_phase"
	HookPostPhase         HookPoint = "post_phase"
)

// HookInfo is passed to every hook. Fields not relevant to the point are nil.
type HookInfo struct {
	SessionID string
	Request   *orchestration.Request
	Phase     *orchestration.PhaseConfig
	// PhaseResult is set for post_phase.
	PhaseResult *orchestration.PhaseResult
	// Result is set for post_orchestration.
	Result *orchestration.Result
}

// HookFunc is a lifecycle callback.
type HookFunc func(ctx context.Context, info *HookInfo) error

type hook struct {
	name     string
	fn       HookFunc
	blocking bool
}

// Hooks holds lifecycle callbacks. Handlers run in registration order. A
// failing handler is logged and skipped unless it was registered as
// blocking, in which case Run stops and returns its error.
type Hooks struct {
	mu       sync.RWMutex
	handlers map[HookPoint][]hook
}

// NewHooks creates an empty hook registry.
func NewHooks() *Hooks {
	return &Hooks{handlers: make(map[HookPoint][]hook)}
}

// Register adds a non-blocking hook.
func (h *Hooks) Register(point HookPoint, name string, fn HookFunc) {
	h.add(point, hook{name: name, fn: fn})
}

// RegisterBlocking adds a hook whose failure fails the orchestration.
func (h *Hooks) RegisterBlocking(point HookPoint, name string, fn HookFunc) {
	h.add(point, hook{name: name, fn: fn, blocking: true})
}

func (h *Hooks) add(point HookPoint, hk hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[point] = append(h.handlers[point], hk)
}

// Run invokes every hook registered for point. Nil receivers run nothing.
func (h *Hooks) Run(ctx context.Context, point HookPoint, info *HookInfo) error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	handlers := append([]hook(nil), h.handlers[point]...)
	h.mu.RUnlock()

	for _, hk := range handlers {
		err := callHook(ctx, hk, info)
		if err == nil {
			continue
		}
		if hk.blocking {
			return fmt.Errorf("%s hook %s: %w", point, hk.name, err)
		}
		slog.Warn("hook failed", "point", point, "hook", hk.name, "session_id", info.SessionID, "error", err)
	}
	return nil
}

func callHook(ctx context.Context, hk hook, info *HookInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hk.fn(ctx, info)
}
