package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/argus/internal/adapter/otel"
	"github.com/Strob0t/argus/internal/domain"
	"github.com/Strob0t/argus/internal/domain/agent"
	"github.com/Strob0t/argus/internal/domain/consensus"
	"github.com/Strob0t/argus/internal/domain/event"
	"github.com/Strob0t/argus/internal/domain/gate"
	"github.com/Strob0t/argus/internal/domain/orchestration"
	"github.com/Strob0t/argus/internal/resilience"
)

// attemptResult is what one phase attempt produced.
type attemptResult struct {
	responses []*agent.Response
	consensus *consensus.Result
	gates     *gate.Result
}

// runPhase executes one phase with its retry budget. The returned error is
// nil only when the phase completed.
func (o *Orchestrator) runPhase(ctx context.Context, sessionID string, req *orchestration.Request, phase *orchestration.PhaseConfig, previous []orchestration.PhaseResult) (orchestration.PhaseResult, error) {
	start := o.now()
	m := orchestration.NewMachine()
	pr := orchestration.PhaseResult{Phase: phase.Name, Type: phase.Type}
	info := &HookInfo{SessionID: sessionID, Request: req, Phase: phase}

	o.emit(ctx, &event.Event{Type: event.TypePhaseStart, SessionID: sessionID, Project: req.ProjectName, Phase: phase.Name, Payload: phase})

	err := o.hooks.Run(ctx, HookPrePhase, info)
	if err == nil {
		err = o.attempts(ctx, sessionID, req, phase, previous, m, &pr)
	}

	if err == nil {
		mustTransition(m, orchestration.StateCompleted)
	} else {
		to := orchestration.StateFailed
		if errors.Is(context.Cause(ctx), errCancelled) || errors.Is(context.Cause(ctx), context.Canceled) {
			to = orchestration.StateCancelled
		}
		mustTransition(m, to)
		pr.Error = err.Error()
	}
	pr.State = m.State()
	pr.Duration = o.now().Sub(start)

	info.PhaseResult = &pr
	if hookErr := o.hooks.Run(context.WithoutCancel(ctx), HookPostPhase, info); hookErr != nil && err == nil {
		err = hookErr
		pr.State = orchestration.StateFailed
		pr.Error = hookErr.Error()
	}

	if o.metrics != nil {
		o.metrics.PhaseDuration.Record(ctx, pr.Duration.Seconds())
	}
	o.emit(ctx, &event.Event{Type: event.TypePhaseEnd, SessionID: sessionID, Project: req.ProjectName, Phase: phase.Name, Attempt: pr.Attempts, Payload: pr})
	slog.InfoContext(ctx, "phase finished", "phase", phase.Name, "state", pr.State, "attempts", pr.Attempts, "duration", pr.Duration)
	return pr, err
}

// attempts runs the phase until an attempt succeeds, the retry budget is
// spent or the orchestration context ends.
func (o *Orchestrator) attempts(ctx context.Context, sessionID string, req *orchestration.Request, phase *orchestration.PhaseConfig, previous []orchestration.PhaseResult, m *orchestration.Machine, pr *orchestration.PhaseResult) error {
	retries := phase.Retries(req.MaxRetries)
	backoff := resilience.Backoff{Base: o.cfg.PhaseBackoff, Max: 8 * o.cfg.PhaseBackoff, Jitter: 0.2}

	for attempt := 1; ; attempt++ {
		pr.Attempts = attempt
		mustTransition(m, orchestration.StateRunning)

		res, err := o.attempt(ctx, sessionID, req, phase, previous, m, attempt)
		if res.responses != nil || res.consensus != nil {
			pr.Responses, pr.Consensus = res.responses, res.consensus
		}
		pr.Gates = res.gates
		if err == nil {
			return nil
		}

		if ctx.Err() != nil || attempt > retries {
			return err
		}
		delay := backoff.Delay(attempt)
		slog.WarnContext(ctx, "phase attempt failed, retrying", "phase", phase.Name, "attempt", attempt, "delay", delay, "error", err)
		if resilience.Sleep(ctx, delay) != nil {
			return err
		}
	}
}

// attempt runs one pass: fan-out under the attempt timeout, consensus, gates.
func (o *Orchestrator) attempt(ctx context.Context, sessionID string, req *orchestration.Request, phase *orchestration.PhaseConfig, previous []orchestration.PhaseResult, m *orchestration.Machine, attempt int) (res attemptResult, err error) {
	ctx, span := cfotel.StartPhaseSpan(ctx, phase.Name, attempt)
	defer func() { cfotel.EndSpan(span, err) }()

	timeout := phase.AttemptTimeout()
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	responses, callErr := o.fanOut(actx, sessionID, req, phase, previous, attempt)
	if callErr != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		callErr = fmt.Errorf("%w: attempt exceeded %s: %w", domain.ErrProviderTimeout, timeout, callErr)
	}
	if len(responses) == 0 {
		return res, &domain.OpError{Phase: phase.Name, Attempt: attempt, Err: callErr}
	}
	res.responses = responses

	mustTransition(m, orchestration.StateAwaitingConsensus)
	threshold := phase.Threshold(req.ConsensusThreshold)
	res.consensus = o.agg.Aggregate(responses, threshold)
	o.emit(ctx, &event.Event{Type: event.TypeConsensusResult, SessionID: sessionID, Project: req.ProjectName, Phase: phase.Name, Attempt: attempt, Payload: res.consensus})
	if res.consensus.Disagreement {
		slog.InfoContext(ctx, "agents disagree", "phase", phase.Name, "spread", res.consensus.Spread)
	}

	// Consensus is recorded even when some agents failed; the attempt still fails.
	if callErr != nil {
		return res, &domain.OpError{Phase: phase.Name, Attempt: attempt, Err: callErr}
	}
	if !res.consensus.Passed {
		return res, &domain.OpError{Phase: phase.Name, Attempt: attempt,
			Err: fmt.Errorf("%w: score %.3f below %.3f", domain.ErrConsensusNotReached, res.consensus.Score, threshold)}
	}

	mustTransition(m, orchestration.StateGating)
	res.gates = o.gates.Run(actx, phase.QualityGates, phase.BlendThreshold(), &Artifacts{
		Phase:     phase.Name,
		Responses: responses,
		Consensus: res.consensus,
	})
	o.emit(ctx, &event.Event{Type: event.TypeGateResult, SessionID: sessionID, Project: req.ProjectName, Phase: phase.Name, Attempt: attempt, Payload: res.gates})
	if !res.gates.Passed {
		msg := fmt.Sprintf("score %.3f below %.3f", res.gates.Score, res.gates.Threshold)
		if hard := res.gates.HardFailures(); len(hard) > 0 {
			msg += ", errored: " + strings.Join(hard, ", ")
		}
		return res, &domain.OpError{Phase: phase.Name, Attempt: attempt, Err: fmt.Errorf("%w: %s", domain.ErrQualityGateFailed, msg)}
	}
	return res, nil
}

// fanOut calls every required agent, concurrently for parallel phases and
// in declaration order otherwise. Responses keep declaration order; failed
// agents are left out and their errors joined.
func (o *Orchestrator) fanOut(ctx context.Context, sessionID string, req *orchestration.Request, phase *orchestration.PhaseConfig, previous []orchestration.PhaseResult, attempt int) ([]*agent.Response, error) {
	n := len(phase.RequiredAgents)
	results := make([]*agent.Response, n)
	errs := make([]error, n)
	// The attempt number keys the cache so a retried phase gets fresh answers.
	phaseContext := map[string]string{"phase": phase.Name, "type": string(phase.Type), "attempt": strconv.Itoa(attempt)}

	call := func(ctx context.Context, i int) {
		name := phase.RequiredAgents[i]
		ag, ok := o.gateway.Agent(name)
		if !ok {
			errs[i] = domain.Configf("unknown agent %s", name)
			return
		}
		prompt := BuildPhasePrompt(req, phase, ag, previous)
		resp, err := o.gateway.Invoke(ctx, ag, prompt, phaseContext)
		if err != nil {
			errs[i] = err
			slog.WarnContext(ctx, "agent call failed", "phase", phase.Name, "agent", name, "attempt", attempt, "error", err)
			return
		}
		results[i] = resp
		o.emit(ctx, &event.Event{Type: event.TypeAgentResponse, SessionID: sessionID, Project: req.ProjectName, Phase: phase.Name, Agent: name, Attempt: attempt, Payload: resp})
	}

	if phase.Parallel {
		// No shared context cancellation: one failing agent must not abort the others.
		var eg errgroup.Group
		for i := range n {
			eg.Go(func() error {
				call(ctx, i)
				return nil
			})
		}
		_ = eg.Wait()
	} else {
		for i := range n {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				continue
			}
			call(ctx, i)
		}
	}

	responses := make([]*agent.Response, 0, n)
	for _, r := range results {
		if r != nil {
			responses = append(responses, r)
		}
	}
	return responses, errors.Join(errs...)
}

// mustTransition applies a transition the phase loop knows to be legal.
func mustTransition(m *orchestration.Machine, to orchestration.State) {
	if err := m.To(to); err != nil {
		slog.Error("phase state machine rejected transition", "error", err)
	}
}
