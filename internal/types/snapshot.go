// Package types defines the core data structures shared by the foundry
// configuration cache, quality gates, and workflow engine.
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Phase is a named manufacturing stage (e.g. "testing", "deployment").
// The set of valid phases is not fixed in code; it comes from the active
// Snapshot's workflow definition.
type Phase string

// String returns the phase name.
func (p Phase) String() string { return string(p) }

// SnapshotKey identifies the project a Snapshot belongs to.
type SnapshotKey struct {
	Organization string `json:"organization"`
	Project      string `json:"project"`
}

// NewSnapshotKey builds a key, trimming surrounding whitespace.
func NewSnapshotKey(organization, project string) SnapshotKey {
	return SnapshotKey{
		Organization: strings.TrimSpace(organization),
		Project:      strings.TrimSpace(project),
	}
}

// String renders the key as "organization/project".
func (k SnapshotKey) String() string {
	return k.Organization + "/" + k.Project
}

// Validate returns an error if either component is empty.
func (k SnapshotKey) Validate() error {
	if k.Organization == "" || k.Project == "" {
		return fmt.Errorf("snapshot key requires organization and project (got %q)", k.String())
	}
	return nil
}

// WorkItemTypeDef describes a remote work item type and the states its
// workflow allows.
type WorkItemTypeDef struct {
	Name   string   `json:"name"`
	States []string `json:"states"`
}

// HasState reports whether state is one of the type's states (case-insensitive).
func (d WorkItemTypeDef) HasState(state string) bool {
	for _, s := range d.States {
		if strings.EqualFold(s, state) {
			return true
		}
	}
	return false
}

// BoardColumnDef describes a board column. StateMappings maps a work item
// type name to the state that places an item of that type in this column.
type BoardColumnDef struct {
	Name          string            `json:"name"`
	ColumnType    string            `json:"column_type,omitempty"` // incoming, inProgress, outgoing
	ItemLimit     int               `json:"item_limit,omitempty"`
	StateMappings map[string]string `json:"state_mappings,omitempty"`
}

// FieldDef describes a work item field (custom or system).
type FieldDef struct {
	ReferenceName string `json:"reference_name"`
	Name          string `json:"name"`
	Type          string `json:"type,omitempty"`
	Required      bool   `json:"required,omitempty"`
}

// RawStructure is the project structure as reported by the remote tracker,
// before it is combined with the workflow definition into a Snapshot.
type RawStructure struct {
	Organization  string            `json:"organization" cbor:"organization"`
	Project       string            `json:"project" cbor:"project"`
	WorkItemTypes []WorkItemTypeDef `json:"work_item_types" cbor:"work_item_types"`
	BoardColumns  []BoardColumnDef  `json:"board_columns" cbor:"board_columns"`
	CustomFields  []FieldDef        `json:"custom_fields" cbor:"custom_fields"`
}

// Normalized returns a copy with unordered collections sorted so that two
// structurally equal responses encode identically. Board column order is
// significant and is preserved.
func (r *RawStructure) Normalized() *RawStructure {
	out := &RawStructure{
		Organization:  r.Organization,
		Project:       r.Project,
		WorkItemTypes: make([]WorkItemTypeDef, len(r.WorkItemTypes)),
		BoardColumns:  make([]BoardColumnDef, len(r.BoardColumns)),
		CustomFields:  append([]FieldDef(nil), r.CustomFields...),
	}
	for i, wit := range r.WorkItemTypes {
		out.WorkItemTypes[i] = WorkItemTypeDef{Name: wit.Name, States: append([]string(nil), wit.States...)}
	}
	for i, col := range r.BoardColumns {
		c := col
		if col.StateMappings != nil {
			c.StateMappings = make(map[string]string, len(col.StateMappings))
			for k, v := range col.StateMappings {
				c.StateMappings[k] = v
			}
		}
		out.BoardColumns[i] = c
	}
	sort.Slice(out.WorkItemTypes, func(i, j int) bool {
		return out.WorkItemTypes[i].Name < out.WorkItemTypes[j].Name
	})
	sort.Slice(out.CustomFields, func(i, j int) bool {
		return out.CustomFields[i].ReferenceName < out.CustomFields[j].ReferenceName
	})
	return out
}

// WorkItemType returns the named type definition, if present.
func (r *RawStructure) WorkItemType(name string) (WorkItemTypeDef, bool) {
	for _, wit := range r.WorkItemTypes {
		if strings.EqualFold(wit.Name, name) {
			return wit, true
		}
	}
	return WorkItemTypeDef{}, false
}

// PhaseRule is the resolved configuration for a single phase: the remote
// state and board column it maps to, and the phases reachable from it.
// An empty State means the phase is declared but has no board mapping.
type PhaseRule struct {
	Phase  Phase   `json:"phase"`
	State  string  `json:"state,omitempty"`
	Column string  `json:"column,omitempty"`
	Next   []Phase `json:"next,omitempty"`
}

// Snapshot is an immutable, versioned copy of a project's configuration.
// Snapshots are replaced, never mutated: callers must treat every field
// (including slices and maps) as read-only.
type Snapshot struct {
	Organization  string              `json:"organization"`
	Project       string              `json:"project"`
	Version       int64               `json:"version"`
	FetchedAt     time.Time           `json:"fetched_at"`
	TTL           time.Duration       `json:"ttl"`
	Hash          string              `json:"hash"`
	WorkItemType  string              `json:"work_item_type"`
	WorkItemTypes []WorkItemTypeDef   `json:"work_item_types"`
	BoardColumns  []BoardColumnDef    `json:"board_columns"`
	CustomFields  []FieldDef          `json:"custom_fields"`
	Phases        []Phase             `json:"phases"`
	Rules         map[Phase]PhaseRule `json:"rules"`
}

// Key returns the snapshot's (organization, project) key.
func (s *Snapshot) Key() SnapshotKey {
	return SnapshotKey{Organization: s.Organization, Project: s.Project}
}

// ExpiresAt returns the time after which the snapshot is stale.
func (s *Snapshot) ExpiresAt() time.Time {
	return s.FetchedAt.Add(s.TTL)
}

// FreshAt reports whether the snapshot is still within its TTL at now.
// A zero TTL is never fresh.
func (s *Snapshot) FreshAt(now time.Time) bool {
	if s.TTL <= 0 {
		return false
	}
	return now.Before(s.ExpiresAt())
}

// ParsePhase validates name against the snapshot's phase set. Unknown
// names are rejected here so the engine never sees them.
func (s *Snapshot) ParsePhase(name string) (Phase, error) {
	p := Phase(strings.TrimSpace(strings.ToLower(name)))
	if _, ok := s.Rules[p]; !ok {
		return "", &UnmappedPhaseError{To: p, Reason: "phase is not defined in the project workflow"}
	}
	return p, nil
}

// InitialPhase returns the first declared phase.
func (s *Snapshot) InitialPhase() (Phase, bool) {
	if len(s.Phases) == 0 {
		return "", false
	}
	return s.Phases[0], true
}

// CanTransition reports whether to is reachable from from in one step.
func (s *Snapshot) CanTransition(from, to Phase) bool {
	rule, ok := s.Rules[from]
	if !ok {
		return false
	}
	for _, next := range rule.Next {
		if next == to {
			return true
		}
	}
	return false
}

// NextPhases returns the phases reachable from p.
func (s *Snapshot) NextPhases(p Phase) []Phase {
	return append([]Phase(nil), s.Rules[p].Next...)
}

// StateFor resolves a phase to its remote state and board column.
func (s *Snapshot) StateFor(p Phase) (state, column string, ok bool) {
	rule, found := s.Rules[p]
	if !found || rule.State == "" {
		return "", "", false
	}
	return rule.State, rule.Column, true
}

// ChangeEntry records a structural change detected by configuration validation.
type ChangeEntry struct {
	Organization string    `json:"organization"`
	Project      string    `json:"project"`
	OldVersion   int64     `json:"old_version"`
	NewVersion   int64     `json:"new_version"`
	OldHash      string    `json:"old_hash"`
	NewHash      string    `json:"new_hash"`
	DetectedAt   time.Time `json:"detected_at"`
}
