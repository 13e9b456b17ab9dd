package manufacturing

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/foundry/internal/types"
	"github.com/steveyegge/foundry/internal/workflow"
)

// Outcome classifies an orchestrator call that did not fail.
type Outcome string

const (
	OutcomeTransitioned  Outcome = "transitioned"
	OutcomeNoOp          Outcome = "noop"
	OutcomeUpdated       Outcome = "updated" // metadata stored, no transition requested
	OutcomeGateFailure   Outcome = "gate_failure"
	OutcomeUnmappedPhase Outcome = "unmapped_phase"
	OutcomeBusy          Outcome = "busy"
)

// Result is the structured outcome of a transition, rollback or
// progress update.
type Result struct {
	Outcome     Outcome                      `json:"outcome"`
	WorkItem    *types.WorkItem              `json:"work_item,omitempty"`
	Record      *types.PhaseTransitionRecord `json:"record,omitempty"`
	GateResults []types.QualityGateResult    `json:"gate_results,omitempty"`
	FailedGates []string                     `json:"failed_gates,omitempty"`
	Reason      string                       `json:"reason,omitempty"`
}

// OK reports whether the item ended in the requested state.
func (r *Result) OK() bool {
	switch r.Outcome {
	case OutcomeTransitioned, OutcomeNoOp, OutcomeUpdated:
		return true
	}
	return false
}

// Progress is the manufacturing data reported by an AI generator. Zero
// values leave the stored field unchanged; maps are merged key by key.
type Progress struct {
	Percentage      *int               `json:"progress_percentage,omitempty"`
	ConfidenceScore *float64           `json:"confidence_score,omitempty"`
	AIGenerator     string             `json:"ai_generator,omitempty"`
	QualityMetrics  map[string]float64 `json:"quality_metrics,omitempty"`
	Requirements    map[string]bool    `json:"requirements,omitempty"`
	Labels          map[string]string  `json:"labels,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

func (p Progress) validate() error {
	if p.Percentage != nil && (*p.Percentage < 0 || *p.Percentage > 100) {
		return fmt.Errorf("progress percentage %d out of range [0,100]", *p.Percentage)
	}
	if p.ConfidenceScore != nil && (*p.ConfidenceScore < 0 || *p.ConfidenceScore > 1) {
		return fmt.Errorf("confidence score %g out of range [0,1]", *p.ConfidenceScore)
	}
	return nil
}

func (p Progress) applyTo(md *types.Metadata) {
	if p.Percentage != nil {
		md.ProgressPercentage = *p.Percentage
	}
	if p.ConfidenceScore != nil {
		md.ConfidenceScore = *p.ConfidenceScore
	}
	if p.AIGenerator != "" {
		md.AIGenerator = p.AIGenerator
	}
	if p.Notes != "" {
		md.Notes = p.Notes
	}
	if len(p.QualityMetrics) > 0 && md.QualityMetrics == nil {
		md.QualityMetrics = make(map[string]float64, len(p.QualityMetrics))
	}
	for k, v := range p.QualityMetrics {
		md.QualityMetrics[k] = v
	}
	if len(p.Requirements) > 0 && md.Requirements == nil {
		md.Requirements = make(map[string]bool, len(p.Requirements))
	}
	for k, v := range p.Requirements {
		md.Requirements[k] = v
	}
	if len(p.Labels) > 0 && md.Labels == nil {
		md.Labels = make(map[string]string, len(p.Labels))
	}
	for k, v := range p.Labels {
		md.Labels[k] = v
	}
}

// UpdateProgress stores the reported metrics on the item and then, when
// target is set, attempts the transition. Metrics are persisted before
// the gates run so they feed the evaluation, and stay stored even when
// the transition is refused.
func (o *Orchestrator) UpdateProgress(ctx context.Context, id, target string, p Progress) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	item, err := o.updateMetadata(ctx, id, func(md *types.Metadata) error {
		p.applyTo(md)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Debug("progress stored", "id", id, "progress", item.Metadata.ProgressPercentage)

	if target == "" {
		return &Result{Outcome: OutcomeUpdated, WorkItem: item}, nil
	}
	return o.Transition(ctx, id, target)
}

// updateMetadata applies fn to a copy of the item's metadata and stores
// the result. Calls for one item are serialized so concurrent updates
// do not overwrite each other.
func (o *Orchestrator) updateMetadata(ctx context.Context, id string, fn func(md *types.Metadata) error) (*types.WorkItem, error) {
	unlock, err := o.mdLocks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	item, err := o.store.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	md := item.Metadata.Clone()
	if err := fn(&md); err != nil {
		return nil, err
	}
	if err := o.store.UpdateMetadata(ctx, id, md); err != nil {
		return nil, fmt.Errorf("update metadata for %s: %w", id, err)
	}
	item.Metadata = md
	return item, nil
}

// Transition moves the item to the named phase.
func (o *Orchestrator) Transition(ctx context.Context, id, target string) (*Result, error) {
	res, err := o.engine.Transition(ctx, id, target)
	return o.settle(ctx, id, res, err)
}

// Rollback reverts the item's most recent forward transition.
func (o *Orchestrator) Rollback(ctx context.Context, id string) (*Result, error) {
	res, err := o.engine.Rollback(ctx, id)
	return o.settle(ctx, id, res, err)
}

// settle turns an engine result into a Result, converting the expected
// domain errors into outcomes.
func (o *Orchestrator) settle(ctx context.Context, id string, res *workflow.Result, err error) (*Result, error) {
	if err == nil {
		out := &Result{
			Outcome:     OutcomeTransitioned,
			WorkItem:    res.WorkItem,
			Record:      res.Record,
			GateResults: res.GateResults,
		}
		if res.NoOp {
			out.Outcome = OutcomeNoOp
		}
		return out, nil
	}

	out := &Result{Reason: err.Error()}
	var gateErr *types.GateFailureError
	switch {
	case errors.As(err, &gateErr):
		out.Outcome = OutcomeGateFailure
		out.GateResults = gateErr.Results
		out.FailedGates = gateErr.FailedGateIDs()
	case errors.Is(err, types.ErrUnmappedPhase):
		out.Outcome = OutcomeUnmappedPhase
	case errors.Is(err, types.ErrBusy):
		out.Outcome = OutcomeBusy
	default:
		return nil, err
	}

	item, gerr := o.store.GetWorkItem(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	out.WorkItem = item
	o.logger.Info("transition refused", "id", id, "outcome", out.Outcome, "reason", out.Reason)
	return out, nil
}

// BulkItem is one entry of a TransitionMany call.
type BulkItem struct {
	ID     string `json:"id"`
	Target string `json:"target"`
}

// BulkResult pairs a bulk entry with its result or error.
type BulkResult struct {
	ID     string  `json:"id"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

// TransitionMany runs independent transitions in parallel, bounded by
// the bulk concurrency. One item's failure does not stop the others;
// results are returned in input order. The error is non-nil only when
// ctx ends before every item ran.
func (o *Orchestrator) TransitionMany(ctx context.Context, items []BulkItem) ([]BulkResult, error) {
	results := make([]BulkResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.bulkLimit)
	for i, it := range items {
		results[i].ID = it.ID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			res, err := o.Transition(gctx, it.ID, it.Target)
			results[i].Result, results[i].Err = res, err
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}
