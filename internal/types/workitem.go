package types

import (
	"time"
)

// TransitionKind distinguishes forward phase changes from rollbacks.
type TransitionKind string

const (
	KindForward  TransitionKind = "forward"
	KindRollback TransitionKind = "rollback"
)

// TransitionOutcome describes how a history record came to be written.
type TransitionOutcome string

const (
	OutcomeCommitted  TransitionOutcome = "committed"  // remote update and local commit in one call
	OutcomeReconciled TransitionOutcome = "reconciled" // remote update found already applied on a later access
)

// GateStatus is the status of a single quality gate evaluation.
type GateStatus string

const (
	GatePass    GateStatus = "pass"
	GateFail    GateStatus = "fail"
	GateSkipped GateStatus = "skipped"
)

// QualityGateResult is the outcome of evaluating one gate.
type QualityGateResult struct {
	GateID      string     `json:"gate_id"`
	Status      GateStatus `json:"status"`
	Mandatory   bool       `json:"mandatory"`
	EvaluatedAt time.Time  `json:"evaluated_at"`
	Details     string     `json:"details,omitempty"`
}

// Blocking reports whether the result prevents a transition.
func (r QualityGateResult) Blocking() bool {
	return r.Mandatory && r.Status != GatePass
}

// PhaseTransitionRecord is one entry of a work item's append-only
// manufacturing history.
type PhaseTransitionRecord struct {
	Seq         int64               `json:"seq"`
	FromPhase   Phase               `json:"from_phase"`
	ToPhase     Phase               `json:"to_phase"`
	Kind        TransitionKind      `json:"kind"`
	State       string              `json:"state,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
	GateResults []QualityGateResult `json:"gate_results,omitempty"`
	Outcome     TransitionOutcome   `json:"outcome"`
	Attempts    int                 `json:"attempts"`
}

// ArtifactLink is a development artifact attached to a work item.
type ArtifactLink struct {
	Kind       string            `json:"kind"` // commit, pull_request, build, deployment
	URL        string            `json:"url"`
	Title      string            `json:"title,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	AttachedAt time.Time         `json:"attached_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Metadata carries the AI manufacturing data gates evaluate against.
type Metadata struct {
	AIGenerator        string             `json:"ai_generator,omitempty"`
	ConfidenceScore    float64            `json:"confidence_score,omitempty"`
	ProgressPercentage int                `json:"progress_percentage,omitempty"`
	QualityMetrics     map[string]float64 `json:"quality_metrics,omitempty"`
	Requirements       map[string]bool    `json:"requirements,omitempty"`
	Notes              string             `json:"notes,omitempty"`
	Artifacts          []ArtifactLink     `json:"artifacts,omitempty"`
	Labels             map[string]string  `json:"labels,omitempty"`
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	out := m
	if m.QualityMetrics != nil {
		out.QualityMetrics = make(map[string]float64, len(m.QualityMetrics))
		for k, v := range m.QualityMetrics {
			out.QualityMetrics[k] = v
		}
	}
	if m.Requirements != nil {
		out.Requirements = make(map[string]bool, len(m.Requirements))
		for k, v := range m.Requirements {
			out.Requirements[k] = v
		}
	}
	if m.Labels != nil {
		out.Labels = make(map[string]string, len(m.Labels))
		for k, v := range m.Labels {
			out.Labels[k] = v
		}
	}
	if m.Artifacts != nil {
		out.Artifacts = make([]ArtifactLink, len(m.Artifacts))
		for i, a := range m.Artifacts {
			out.Artifacts[i] = a
			if a.Attributes != nil {
				attrs := make(map[string]string, len(a.Attributes))
				for k, v := range a.Attributes {
					attrs[k] = v
				}
				out.Artifacts[i].Attributes = attrs
			}
		}
	}
	return out
}

// WorkItem is a manufacturing work item. CurrentPhase and History change
// only through the workflow engine.
type WorkItem struct {
	ID           string                  `json:"id"`
	ExternalID   string                  `json:"external_id"`
	Organization string                  `json:"organization"`
	Project      string                  `json:"project"`
	Title        string                  `json:"title"`
	Description  string                  `json:"description,omitempty"`
	WorkItemType string                  `json:"work_item_type"`
	CurrentPhase Phase                   `json:"current_phase"`
	History      []PhaseTransitionRecord `json:"manufacturing_history"`
	Metadata     Metadata                `json:"metadata"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// Key returns the snapshot key of the project the item belongs to.
func (w *WorkItem) Key() SnapshotKey {
	return SnapshotKey{Organization: w.Organization, Project: w.Project}
}

// LastRecord returns the most recent history record, if any.
func (w *WorkItem) LastRecord() (PhaseTransitionRecord, bool) {
	if len(w.History) == 0 {
		return PhaseTransitionRecord{}, false
	}
	return w.History[len(w.History)-1], true
}

// Clone returns a deep copy so callers cannot alias stored state.
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	out := *w
	out.Metadata = w.Metadata.Clone()
	if w.History != nil {
		out.History = make([]PhaseTransitionRecord, len(w.History))
		for i, rec := range w.History {
			out.History[i] = rec
			out.History[i].GateResults = append([]QualityGateResult(nil), rec.GateResults...)
		}
	}
	return &out
}

// Intent is a pending remote update recorded before the remote call, so a
// change applied remotely but never committed locally can be reconciled.
type Intent struct {
	WorkItemID  string              `json:"work_item_id"`
	FromPhase   Phase               `json:"from_phase"`
	ToPhase     Phase               `json:"to_phase"`
	Kind        TransitionKind      `json:"kind"`
	State       string              `json:"state"`
	FromState   string              `json:"from_state,omitempty"` // board state of FromPhase
	GateResults []QualityGateResult `json:"gate_results,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}
