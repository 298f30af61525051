package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	cfotel "github.com/Strob0t/argus/internal/adapter/otel"
	"github.com/Strob0t/argus/internal/config"
	"github.com/Strob0t/argus/internal/domain"
	"github.com/Strob0t/argus/internal/domain/agent"
	"github.com/Strob0t/argus/internal/domain/consensus"
	"github.com/Strob0t/argus/internal/domain/event"
	"github.com/Strob0t/argus/internal/domain/orchestration"
	"github.com/Strob0t/argus/internal/logger"
)

var (
	errCancelled = errors.New("orchestration cancelled")
	errTimeout   = errors.New("orchestration timed out")
)

// Invoker is the gateway surface the orchestrator drives.
type Invoker interface {
	Agent(name string) (agent.Config, bool)
	HasAgent(name string) bool
	Invoke(ctx context.Context, ag agent.Config, prompt string, phaseContext map[string]string) (*agent.Response, error)
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Gateway    Invoker
	Gates      *QualityGateEngine
	Aggregator *consensus.Aggregator
	Hooks      *Hooks
	Events     *EventEmitter
	Config     config.Orchestrator
}

// Orchestrator runs orchestration requests phase by phase: agent fan-out
// through the gateway, consensus, quality gates, then the next phase.
type Orchestrator struct {
	gateway Invoker
	gates   *QualityGateEngine
	agg     *consensus.Aggregator
	hooks   *Hooks
	events  *EventEmitter
	cfg     config.Orchestrator
	metrics *cfotel.Metrics
	now     func() time.Time
	newID   func() string

	// admit bounds running orchestrations; nil means unbounded.
	admit *semaphore.Weighted

	mu       sync.Mutex
	live     map[string]*session // queued or running
	finished *expirable.LRU[string, *session]
}

// session is the live state of one orchestration.
type session struct {
	id     string
	mu     sync.Mutex
	result *orchestration.Result
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// NewOrchestrator creates an Orchestrator. Gateway and Gates are required.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	agg := opts.Aggregator
	if agg == nil {
		agg = consensus.NewAggregator(consensus.DefaultDisagreementMargin)
	}
	o := &Orchestrator{
		gateway:  opts.Gateway,
		gates:    opts.Gates,
		agg:      agg,
		hooks:    opts.Hooks,
		events:   opts.Events,
		cfg:      opts.Config,
		now:      time.Now,
		newID:    uuid.NewString,
		live:     make(map[string]*session),
		finished: expirable.NewLRU[string, *session](opts.Config.RetainedSessions, nil, opts.Config.SessionRetention),
	}
	if opts.Config.MaxSessions > 0 {
		o.admit = semaphore.NewWeighted(int64(opts.Config.MaxSessions))
	}
	return o
}

// SetMetrics attaches OTEL metric instruments.
func (o *Orchestrator) SetMetrics(m *cfotel.Metrics) {
	o.metrics = m
}

// HasAgent implements orchestration.Catalog.
func (o *Orchestrator) HasAgent(name string) bool { return o.gateway.HasAgent(name) }

// HasGate implements orchestration.Catalog.
func (o *Orchestrator) HasGate(name string) bool { return o.gates.HasGate(name) }

// Orchestrate runs req to a terminal state and returns the result. The only
// error is a configuration error, returned before any agent is called;
// every other failure is reported through the result's status and reason.
func (o *Orchestrator) Orchestrate(ctx context.Context, req *orchestration.Request) (*orchestration.Result, error) {
	r, s, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.cancel = cancel
	o.run(runCtx, r, s)
	return s.snapshot(), nil
}

// Start validates req and runs it in the background. It returns the
// session ID used with Session, Cancel and Wait. Beyond MaxSessions running
// orchestrations the session waits in a FIFO queue with status queued; a
// full queue is a conflict.
func (o *Orchestrator) Start(ctx context.Context, req *orchestration.Request) (string, error) {
	r, s, err := o.prepare(req)
	if err != nil {
		return "", err
	}
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	s.cancel = cancel
	go func() {
		defer cancel(nil)
		o.run(runCtx, r, s)
	}()
	return s.id, nil
}

// Session returns a snapshot of the orchestration.
func (o *Orchestrator) Session(id string) (*orchestration.Result, error) {
	s, err := o.session(id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// Cancel stops a running orchestration; it ends with status cancelled.
func (o *Orchestrator) Cancel(id string) error {
	s, err := o.session(id)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return fmt.Errorf("%w: orchestration %s already finished", domain.ErrConflict, id)
	default:
	}
	s.cancel(errCancelled)
	slog.Info("orchestration cancel requested", "session_id", id)
	return nil
}

// Wait blocks until the orchestration finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*orchestration.Result, error) {
	s, err := o.session(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-s.done:
		return s.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) session(id string) (*session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.live[id]; ok {
		return s, nil
	}
	if s, ok := o.finished.Get(id); ok {
		return s, nil
	}
	return nil, fmt.Errorf("orchestration %s: %w", id, domain.ErrNotFound)
}

// retire moves a finished session to the retention cache, which drops it
// after SessionRetention or once RetainedSessions newer ones have finished.
func (o *Orchestrator) retire(s *session) {
	o.mu.Lock()
	o.finished.Add(s.id, s)
	delete(o.live, s.id)
	o.mu.Unlock()
}

// acquire waits for a run slot. A session that has to wait reports status
// queued until it is admitted.
func (o *Orchestrator) acquire(ctx context.Context, s *session) error {
	if o.admit == nil || o.admit.TryAcquire(1) {
		return nil
	}
	s.update(func(r *orchestration.Result) { r.Status = orchestration.StatusQueued })
	slog.InfoContext(ctx, "orchestration queued", "max_sessions", o.cfg.MaxSessions)
	if err := o.admit.Acquire(ctx, 1); err != nil {
		return err
	}
	s.update(func(r *orchestration.Result) { r.Status = orchestration.StatusRunning })
	return nil
}

func (o *Orchestrator) release() {
	if o.admit != nil {
		o.admit.Release(1)
	}
}

// prepare validates and clones the request and registers a session.
func (o *Orchestrator) prepare(req *orchestration.Request) (*orchestration.Request, *session, error) {
	if req == nil {
		return nil, nil, domain.Configf("request is required")
	}
	r := req.Clone()
	if err := r.Validate(o); err != nil {
		slog.Warn("orchestration rejected", "project", req.ProjectName, "error", err)
		return nil, nil, err
	}

	s := &session{
		id:   o.newID(),
		done: make(chan struct{}),
	}
	s.result = &orchestration.Result{
		SessionID:   s.id,
		ProjectName: r.ProjectName,
		Status:      orchestration.StatusRunning,
		StartedAt:   o.now().UTC(),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if limit := o.cfg.MaxSessions + o.cfg.MaxQueued; o.cfg.MaxSessions > 0 && o.cfg.MaxQueued > 0 && len(o.live) >= limit {
		return nil, nil, fmt.Errorf("%w: %d orchestrations running or queued", domain.ErrConflict, len(o.live))
	}
	o.live[s.id] = s
	return r, s, nil
}

// run drives the phases in order and finishes the session.
func (o *Orchestrator) run(ctx context.Context, req *orchestration.Request, s *session) {
	ctx = logger.WithSessionID(ctx, s.id)
	if err := o.acquire(ctx, s); err != nil {
		o.finish(ctx, req, s, err)
		return
	}
	defer o.release()

	ctx, span := cfotel.StartOrchestrationSpan(ctx, s.id, req.ProjectName)
	ctx, cancel := context.WithTimeoutCause(ctx, req.Deadline(), errTimeout)
	defer cancel()

	if o.metrics != nil {
		o.metrics.OrchestrationsStarted.Add(ctx, 1)
	}
	slog.InfoContext(ctx, "orchestration started", "project", req.ProjectName, "phases", len(req.Phases))
	o.emit(ctx, &event.Event{
		Type: event.TypeOrchestrationStart, SessionID: s.id, Project: req.ProjectName,
		Payload: startPayload(req),
	})

	err := o.hooks.Run(ctx, HookPreOrchestration, &HookInfo{SessionID: s.id, Request: req})
	if err == nil {
		var previous []orchestration.PhaseResult
		for i := range req.Phases {
			phase := &req.Phases[i]
			s.update(func(r *orchestration.Result) { r.LastPhase = phase.Name })

			var pr orchestration.PhaseResult
			pr, err = o.runPhase(ctx, s.id, req, phase, previous)
			previous = append(previous, pr)
			s.update(func(r *orchestration.Result) { r.Phases = append(r.Phases, pr) })
			if err != nil {
				break
			}
		}
	}

	o.finish(ctx, req, s, err)
	cfotel.EndSpan(span, err)
}

// finish records the terminal status, runs post hooks and emits the end event.
func (o *Orchestrator) finish(ctx context.Context, req *orchestration.Request, s *session, err error) {
	status, reason := classify(ctx, err)

	// Post hooks run even after cancellation.
	hookCtx := context.WithoutCancel(ctx)
	snap := s.snapshot()
	snap.Status, snap.Reason, snap.Err = status, reason, err
	if hookErr := o.hooks.Run(hookCtx, HookPostOrchestration, &HookInfo{SessionID: s.id, Request: req, Result: snap}); hookErr != nil && status == orchestration.StatusCompleted {
		status, reason, err = orchestration.StatusFailed, hookErr.Error(), hookErr
	}

	s.update(func(r *orchestration.Result) {
		r.Status = status
		r.Reason = reason
		r.Err = err
		r.Duration = o.now().Sub(r.StartedAt)
		r.FinalOutput = finalOutput(r.Phases)
		r.ConsensusAchieved = consensusAchieved(r.Phases, req.ConsensusThreshold)
	})
	final := s.snapshot()
	close(s.done)
	o.retire(s)

	if o.metrics != nil {
		o.metrics.OrchestrationsEnded.Add(hookCtx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	}
	o.emit(hookCtx, &event.Event{
		Type: event.TypeOrchestrationEnd, SessionID: s.id, Project: req.ProjectName,
		Phase: final.LastPhase, Payload: final,
	})

	if status == orchestration.StatusCompleted {
		slog.InfoContext(hookCtx, "orchestration completed", "project", req.ProjectName,
			"duration", final.Duration, "consensus_achieved", final.ConsensusAchieved)
		return
	}
	slog.WarnContext(hookCtx, "orchestration ended", "project", req.ProjectName, "status", status,
		"reason", reason, "last_phase", final.LastPhase)
}

// classify maps the error that ended a run onto a terminal status and reason.
func classify(ctx context.Context, err error) (orchestration.Status, string) {
	if err == nil {
		return orchestration.StatusCompleted, ""
	}
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, errTimeout), errors.Is(cause, context.DeadlineExceeded):
		return orchestration.StatusFailed, "timeout"
	case errors.Is(cause, errCancelled), errors.Is(cause, context.Canceled):
		return orchestration.StatusCancelled, "cancelled"
	}
	return orchestration.StatusFailed, err.Error()
}

// finalOutput joins the response contents of the last phase that produced any.
func finalOutput(phases []orchestration.PhaseResult) string {
	for i := len(phases) - 1; i >= 0; i-- {
		if rs := phases[i].Responses; len(rs) > 0 {
			parts := make([]string, len(rs))
			for j, r := range rs {
				parts[j] = r.Content
			}
			return strings.Join(parts, "\n\n")
		}
	}
	return ""
}

// consensusAchieved reports whether the mean phase consensus reaches threshold.
func consensusAchieved(phases []orchestration.PhaseResult, threshold float64) bool {
	var sum float64
	n := 0
	for _, p := range phases {
		if p.Consensus != nil {
			sum += p.Consensus.Score
			n++
		}
	}
	return n > 0 && sum/float64(n) >= threshold
}

func startPayload(req *orchestration.Request) map[string]any {
	names := make([]string, len(req.Phases))
	for i, p := range req.Phases {
		names[i] = p.Name
	}
	return map[string]any{
		"phases":              names,
		"consensus_threshold": req.ConsensusThreshold,
		"max_retries":         req.MaxRetries,
		"timeout_seconds":     req.TimeoutSeconds,
	}
}

func (o *Orchestrator) emit(ctx context.Context, ev *event.Event) {
	o.events.Emit(ctx, ev)
}

func (s *session) update(fn func(r *orchestration.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.result)
}

func (s *session) snapshot() *orchestration.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.Clone()
}
