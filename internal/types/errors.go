package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the manufacturing error taxonomy. The typed errors
// below wrap these so callers can branch with errors.Is.
var (
	// ErrConfigUnavailable indicates no fresh or acceptable stale snapshot
	// could be obtained from any cache tier or the remote tracker.
	ErrConfigUnavailable = errors.New("configuration unavailable")

	// ErrUnmappedPhase indicates the configuration has no transition edge
	// or board state mapping for the requested phase.
	ErrUnmappedPhase = errors.New("unmapped phase")

	// ErrGateFailure indicates one or more mandatory quality gates failed.
	ErrGateFailure = errors.New("quality gate failure")

	// ErrBusy indicates a transition is already in flight for the work item.
	ErrBusy = errors.New("work item busy")

	// ErrTransitionFailed indicates the remote update failed after retries.
	ErrTransitionFailed = errors.New("transition failed")

	// ErrStaleWriteRejected indicates a snapshot write whose version was
	// not greater than the current version for its key.
	ErrStaleWriteRejected = errors.New("stale write rejected")
)

// UnmappedPhaseError carries the offending phases.
type UnmappedPhaseError struct {
	From   Phase
	To     Phase
	Reason string
}

func (e *UnmappedPhaseError) Error() string {
	if e.From != "" {
		return fmt.Sprintf("unmapped phase %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("unmapped phase %q: %s", e.To, e.Reason)
}

func (e *UnmappedPhaseError) Unwrap() error { return ErrUnmappedPhase }

// GateFailureError lists every blocking gate result. Results holds the
// full evaluation, including optional and passing gates.
type GateFailureError struct {
	Phase   Phase
	Failed  []QualityGateResult
	Results []QualityGateResult
}

func (e *GateFailureError) Error() string {
	return fmt.Sprintf("quality gates failed for %s: %s", e.Phase, strings.Join(e.FailedGateIDs(), ", "))
}

func (e *GateFailureError) Unwrap() error { return ErrGateFailure }

// FailedGateIDs returns the ids of the blocking gates.
func (e *GateFailureError) FailedGateIDs() []string {
	ids := make([]string, len(e.Failed))
	for i, r := range e.Failed {
		ids[i] = r.GateID
	}
	return ids
}

// TransitionFailedError records how many remote attempts were made.
type TransitionFailedError struct {
	WorkItemID string
	Target     Phase
	Attempts   int
	Err        error
}

func (e *TransitionFailedError) Error() string {
	return fmt.Sprintf("transition of %s to %s failed after %d attempt(s): %v", e.WorkItemID, e.Target, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the last remote error.
func (e *TransitionFailedError) Unwrap() []error { return []error{ErrTransitionFailed, e.Err} }

// StaleWriteError describes a rejected snapshot write.
type StaleWriteError struct {
	Key       SnapshotKey
	Current   int64
	Attempted int64
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale write for %s: version %d is not greater than current %d", e.Key, e.Attempted, e.Current)
}

func (e *StaleWriteError) Unwrap() error { return ErrStaleWriteRejected }

// BusyError names the work item that is locked.
type BusyError struct {
	WorkItemID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("work item %s has a transition in flight", e.WorkItemID)
}

func (e *BusyError) Unwrap() error { return ErrBusy }

// IsDomainOutcome reports whether err is an expected domain result
// (GateFailure, UnmappedPhase, Busy) rather than an infrastructure failure.
func IsDomainOutcome(err error) bool {
	return errors.Is(err, ErrGateFailure) || errors.Is(err, ErrUnmappedPhase) || errors.Is(err, ErrBusy)
}
