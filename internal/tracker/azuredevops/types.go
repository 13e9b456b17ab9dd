// Package azuredevops provides an Azure DevOps integration plugin for the tracker framework.
package azuredevops

import (
	"time"
)

// API constants
const (
	DefaultTimeout = 30 * time.Second
	APIVersion     = "7.0"

	// customFieldPrefix marks process-level custom fields.
	customFieldPrefix = "Custom."

	// PhaseField holds the manufacturing phase written with each state change.
	PhaseField = "Custom.AI.CurrentPhase"
)

// WorkItem represents an Azure DevOps work item.
type WorkItem struct {
	ID     int            `json:"id"`
	Rev    int            `json:"rev"`
	URL    string         `json:"url"`
	Fields WorkItemFields `json:"fields"`
	Links  *WorkItemLinks `json:"_links,omitempty"`
}

// WorkItemFields contains the work item field values foundry reads.
type WorkItemFields struct {
	Title        string `json:"System.Title"`
	State        string `json:"System.State"`
	WorkItemType string `json:"System.WorkItemType"`
	Tags         string `json:"System.Tags,omitempty"` // Semicolon-separated
	CurrentPhase string `json:"Custom.AI.CurrentPhase,omitempty"`
}

// WorkItemLinks contains hypermedia links.
type WorkItemLinks struct {
	Self Link `json:"self"`
	HTML Link `json:"html"`
}

// Link is a hypermedia link.
type Link struct {
	Href string `json:"href"`
}

// WorkItemTypeState is a state in a work item type's workflow.
type WorkItemTypeState struct {
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Category string `json:"category,omitempty"`
}

// WorkItemType is a work item type definition.
type WorkItemType struct {
	Name          string              `json:"name"`
	ReferenceName string              `json:"referenceName"`
	IsDisabled    bool                `json:"isDisabled,omitempty"`
	States        []WorkItemTypeState `json:"states"`
}

// Field is a work item field definition.
type Field struct {
	Name          string `json:"name"`
	ReferenceName string `json:"referenceName"`
	Type          string `json:"type"`
	ReadOnly      bool   `json:"readOnly,omitempty"`
	IsRequired    bool   `json:"isRequired,omitempty"`
}

// BoardReference identifies one of a team's boards.
type BoardReference struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// BoardColumn is a column on a Kanban board.
type BoardColumn struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	ItemLimit     int               `json:"itemLimit"`
	ColumnType    string            `json:"columnType"`
	StateMappings map[string]string `json:"stateMappings"`
}

// listResponse is the envelope Azure DevOps wraps collection results in.
type listResponse[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

// PatchOperation is a JSON Patch operation for creating/updating work items.
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
	From  string      `json:"from,omitempty"`
}

// Relation is a work item link, used for artifact hyperlinks.
type Relation struct {
	Rel        string                 `json:"rel"`
	URL        string                 `json:"url"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}
