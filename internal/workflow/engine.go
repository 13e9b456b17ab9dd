// Package workflow moves work items between manufacturing phases. The
// Engine validates each move against the project's configuration
// snapshot, evaluates quality gates, drives the remote tracker, and only
// then records the change in the item's history.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/foundry/internal/clock"
	"github.com/steveyegge/foundry/internal/config"
	"github.com/steveyegge/foundry/internal/gate"
	"github.com/steveyegge/foundry/internal/storage"
	"github.com/steveyegge/foundry/internal/telemetry"
	"github.com/steveyegge/foundry/internal/tracker"
	"github.com/steveyegge/foundry/internal/types"
)

// SnapshotSource supplies the configuration snapshot for a project.
// *configcache.Cache satisfies it.
type SnapshotSource interface {
	Get(ctx context.Context, key types.SnapshotKey) (*types.Snapshot, error)
}

// Evaluator runs every gate registered for a target phase.
// *gate.Registry satisfies it.
type Evaluator interface {
	Evaluate(item *types.WorkItem, target types.Phase, now time.Time) []types.QualityGateResult
}

// Store is the persistence the engine needs.
type Store interface {
	storage.WorkItemStore
	storage.IntentStore
}

// Result is a completed transition or rollback. Record is nil when the
// call was a no-op because the item already sat in the target phase.
type Result struct {
	WorkItem    *types.WorkItem
	Record      *types.PhaseTransitionRecord
	GateResults []types.QualityGateResult
	NoOp        bool
}

// Engine is safe for concurrent use. Calls for one work item are
// serialized; calls for different items run in parallel.
type Engine struct {
	store     Store
	snapshots SnapshotSource
	remote    tracker.RemoteClient
	gates     Evaluator

	locks    *LockPool
	lockMode config.LockMode
	retry    RetryPolicy
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *telemetry.WorkflowMetrics
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLockMode selects reject (Busy) or queue for concurrent calls on one item.
func WithLockMode(m config.LockMode) Option { return func(e *Engine) { e.lockMode = m } }

// WithLockShards sets the lock pool's shard count.
func WithLockShards(n int) Option { return func(e *Engine) { e.locks = NewLockPool(n) } }

// WithRetry sets the remote update retry policy.
func WithRetry(p RetryPolicy) Option { return func(e *Engine) { e.retry = p } }

// WithClock sets the clock used for record timestamps.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics sets the workflow instruments.
func WithMetrics(m *telemetry.WorkflowMetrics) Option { return func(e *Engine) { e.metrics = m } }

// New builds an engine. gates may be nil, in which case no gates run.
func New(store Store, snapshots SnapshotSource, remote tracker.RemoteClient, gates Evaluator, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		snapshots: snapshots,
		remote:    remote,
		gates:     gates,
		lockMode:  config.LockReject,
		retry:     DefaultRetryPolicy,
		clock:     clock.Real(),
		tracer:    telemetry.WorkflowTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locks == nil {
		e.locks = NewLockPool(DefaultLockShards)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

func (e *Engine) acquire(ctx context.Context, id string) (func(), error) {
	if e.lockMode == config.LockQueue {
		unlock, err := e.locks.Lock(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("waiting for work item %s: %w", id, err)
		}
		return unlock, nil
	}
	unlock, ok := e.locks.TryLock(id)
	if !ok {
		return nil, &types.BusyError{WorkItemID: id}
	}
	return unlock, nil
}

// Transition moves the work item to the named phase. The name is
// validated against the project's snapshot. Calling Transition for the
// phase the item is already in returns the current state with NoOp set.
func (e *Engine) Transition(ctx context.Context, id, target string) (res *Result, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.transition", trace.WithAttributes(
		attribute.String("work_item.id", id),
		attribute.String("target", target),
	))
	var attempts int
	defer func() { e.finish(ctx, span, types.KindForward, res, err, attempts) }()

	unlock, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	item, snap, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	to, err := snap.ParsePhase(target)
	if err != nil {
		return nil, err
	}
	from := item.CurrentPhase
	if from == to {
		e.logger.Debug("transition is a no-op", "work_item", id, "phase", to)
		return &Result{WorkItem: item, NoOp: true}, nil
	}
	if !snap.CanTransition(from, to) {
		return nil, &types.UnmappedPhaseError{From: from, To: to, Reason: "no transition edge in the project workflow"}
	}
	state, _, ok := snap.StateFor(to)
	if !ok {
		return nil, &types.UnmappedPhaseError{From: from, To: to, Reason: "phase has no board state mapping"}
	}

	var results []types.QualityGateResult
	if e.gates != nil {
		results = e.gates.Evaluate(item, to, e.clock.Now())
	}
	if err := gate.Decide(results).Err(to); err != nil {
		return nil, err
	}

	fromState, _, _ := snap.StateFor(from)
	intent := types.Intent{
		WorkItemID:  id,
		FromPhase:   from,
		ToPhase:     to,
		Kind:        types.KindForward,
		State:       state,
		FromState:   fromState,
		GateResults: results,
		CreatedAt:   e.clock.Now(),
	}
	res, attempts, err = e.apply(ctx, item, intent)
	if res != nil {
		res.GateResults = results
	}
	return res, err
}

// Rollback reverts the most recent forward transition. No gates run.
// An item without history, or whose latest record is already a
// rollback, cannot be rolled back.
func (e *Engine) Rollback(ctx context.Context, id string) (res *Result, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.rollback", trace.WithAttributes(
		attribute.String("work_item.id", id),
	))
	var attempts int
	defer func() { e.finish(ctx, span, types.KindRollback, res, err, attempts) }()

	unlock, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	item, snap, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	last, ok := item.LastRecord()
	if !ok {
		return nil, &types.UnmappedPhaseError{From: item.CurrentPhase, Reason: "work item has no history to roll back"}
	}
	if last.Kind == types.KindRollback {
		return nil, &types.UnmappedPhaseError{From: item.CurrentPhase, To: last.FromPhase, Reason: "latest change is already a rollback"}
	}
	to := last.FromPhase
	state, _, ok := snap.StateFor(to)
	if !ok {
		return nil, &types.UnmappedPhaseError{From: item.CurrentPhase, To: to, Reason: "phase has no board state mapping"}
	}

	fromState, _, _ := snap.StateFor(item.CurrentPhase)
	intent := types.Intent{
		WorkItemID: id,
		FromPhase:  item.CurrentPhase,
		ToPhase:    to,
		Kind:       types.KindRollback,
		State:      state,
		FromState:  fromState,
		CreatedAt:  e.clock.Now(),
	}
	res, attempts, err = e.apply(ctx, item, intent)
	return res, err
}

// Reconcile settles a remote update that was applied but never committed
// locally, and returns the item's current state.
func (e *Engine) Reconcile(ctx context.Context, id string) (*types.WorkItem, error) {
	unlock, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	item, err := e.store.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.reconcile(ctx, item)
}

// load reads the item, settles any leftover intent, and fetches the
// project's snapshot. Callers hold the item's lock.
func (e *Engine) load(ctx context.Context, id string) (*types.WorkItem, *types.Snapshot, error) {
	item, err := e.store.GetWorkItem(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	item, err = e.reconcile(ctx, item)
	if err != nil {
		return nil, nil, err
	}
	snap, err := e.snapshots.Get(ctx, item.Key())
	if err != nil {
		return nil, nil, err
	}
	return item, snap, nil
}

func (e *Engine) reconcile(ctx context.Context, item *types.WorkItem) (*types.WorkItem, error) {
	intent, err := e.store.GetIntent(ctx, item.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return item, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending update for %s: %w", item.ID, err)
	}

	// Committed, but the intent outlived the commit.
	if intent.FromPhase != item.CurrentPhase {
		return item, e.store.ClearIntent(ctx, item.ID)
	}

	remote, err := e.remote.GetState(ctx, item.ExternalID)
	if err != nil && !errors.Is(err, tracker.ErrNotFound) {
		return nil, fmt.Errorf("reconcile %s: %w", item.ID, err)
	}
	if err != nil || !updateApplied(remote, intent) {
		e.logger.Info("discarding unapplied update", "work_item", item.ID, "to", intent.ToPhase,
			"remote_state", remote.State, "remote_phase", remote.Phase)
		return item, e.store.ClearIntent(ctx, item.ID)
	}

	rec := types.PhaseTransitionRecord{
		FromPhase:   intent.FromPhase,
		ToPhase:     intent.ToPhase,
		Kind:        intent.Kind,
		State:       intent.State,
		Timestamp:   e.clock.Now(),
		GateResults: intent.GateResults,
		Outcome:     types.OutcomeReconciled,
	}
	committed, err := e.store.CommitTransition(ctx, item.ID, rec)
	if err != nil {
		return nil, fmt.Errorf("record reconciled update for %s: %w", item.ID, err)
	}
	if err := e.store.ClearIntent(ctx, item.ID); err != nil {
		return nil, err
	}
	e.logger.Info("reconciled remote update", "work_item", item.ID, "from", committed.FromPhase, "to", committed.ToPhase)
	e.metrics.Transition(ctx, string(intent.Kind), string(types.OutcomeReconciled), 0)

	item = item.Clone()
	item.History = append(item.History, committed)
	item.CurrentPhase = committed.ToPhase
	item.UpdatedAt = committed.Timestamp
	return item, nil
}

// updateApplied reports whether the remote reflects the intent. The phase
// marker decides when present. Without one, a matching state only counts
// when the from-phase sits in a different state, since a shared state
// cannot show the write happened.
func updateApplied(remote tracker.RemoteState, intent *types.Intent) bool {
	if !strings.EqualFold(remote.State, intent.State) {
		return false
	}
	if remote.Phase != "" {
		return strings.EqualFold(string(remote.Phase), string(intent.ToPhase))
	}
	return intent.FromState != "" && !strings.EqualFold(intent.FromState, intent.State)
}

// apply performs the remote update and the local commit. Cancellation
// before the intent is saved changes nothing. After that, a cancelled
// call leaves the intent for reconciliation on the next access.
func (e *Engine) apply(ctx context.Context, item *types.WorkItem, intent types.Intent) (*Result, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := e.store.SaveIntent(ctx, intent); err != nil {
		return nil, 0, fmt.Errorf("record pending update for %s: %w", item.ID, err)
	}

	attempts, err := e.retry.do(ctx, func() error {
		err := e.remote.UpdateState(ctx, item.ExternalID, tracker.RemoteState{State: intent.State, Phase: intent.ToPhase})
		if err != nil {
			e.logger.Warn("remote update failed", "work_item", item.ID, "state", intent.State, "err", err)
		}
		return err
	}, tracker.IsTemporary)
	if err != nil {
		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}
		if clearErr := e.store.ClearIntent(ctx, item.ID); clearErr != nil {
			e.logger.Warn("failed to clear pending update", "work_item", item.ID, "err", clearErr)
		}
		return nil, attempts, &types.TransitionFailedError{
			WorkItemID: item.ID,
			Target:     intent.ToPhase,
			Attempts:   attempts,
			Err:        err,
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, attempts, err
	}

	rec := types.PhaseTransitionRecord{
		FromPhase:   intent.FromPhase,
		ToPhase:     intent.ToPhase,
		Kind:        intent.Kind,
		State:       intent.State,
		Timestamp:   e.clock.Now(),
		GateResults: intent.GateResults,
		Outcome:     types.OutcomeCommitted,
		Attempts:    attempts,
	}
	committed, err := e.store.CommitTransition(ctx, item.ID, rec)
	if err != nil {
		return nil, attempts, fmt.Errorf("commit %s -> %s for %s: %w", intent.FromPhase, intent.ToPhase, item.ID, err)
	}
	if err := e.store.ClearIntent(ctx, item.ID); err != nil {
		e.logger.Warn("failed to clear pending update", "work_item", item.ID, "err", err)
	}

	out := item.Clone()
	out.History = append(out.History, committed)
	out.CurrentPhase = committed.ToPhase
	out.UpdatedAt = committed.Timestamp
	e.logger.Info("phase changed", "work_item", item.ID, "kind", intent.Kind,
		"from", intent.FromPhase, "to", intent.ToPhase, "attempts", attempts)
	return &Result{WorkItem: out, Record: &committed}, attempts, nil
}

func (e *Engine) finish(ctx context.Context, span trace.Span, kind types.TransitionKind, res *Result, err error, attempts int) {
	outcome := outcomeLabel(res, err)
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Int("attempts", attempts))
	if err != nil && !types.IsDomainOutcome(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	e.metrics.Transition(ctx, string(kind), outcome, attempts)
}

func outcomeLabel(res *Result, err error) string {
	switch {
	case err == nil && res != nil && res.NoOp:
		return "noop"
	case err == nil:
		return string(types.OutcomeCommitted)
	case errors.Is(err, types.ErrGateFailure):
		return "gate_failure"
	case errors.Is(err, types.ErrUnmappedPhase):
		return "unmapped_phase"
	case errors.Is(err, types.ErrBusy):
		return "busy"
	case errors.Is(err, types.ErrTransitionFailed):
		return "failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
