package testutil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/steveyegge/foundry/internal/tracker/azuredevops"
)

// AzureDevOpsMockServer serves the subset of the Azure DevOps REST API the
// adapter uses, backed by in-memory project data.
type AzureDevOpsMockServer struct {
	*MockTrackerServer

	data           sync.Mutex
	workItemTypes  []azuredevops.WorkItemType
	fields         []azuredevops.Field
	boards         []azuredevops.BoardReference
	columns        []azuredevops.BoardColumn
	workItems      map[int]*azuredevops.WorkItem
	relations      map[int][]azuredevops.Relation
	nextWorkItemID int
}

// NewAzureDevOpsMockServer creates a new Azure DevOps mock server.
func NewAzureDevOpsMockServer() *AzureDevOpsMockServer {
	m := &AzureDevOpsMockServer{
		workItems:      make(map[int]*azuredevops.WorkItem),
		relations:      make(map[int][]azuredevops.Relation),
		nextWorkItemID: 1000,
	}
	m.MockTrackerServer = NewMockTrackerServer(http.HandlerFunc(m.handleADORequest))
	return m
}

// handleADORequest handles Azure DevOps-specific API routes.
func (m *AzureDevOpsMockServer) handleADORequest(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/_apis/wit/workitemtypes") && r.Method == http.MethodGet:
		m.data.Lock()
		defer m.data.Unlock()
		writeList(w, m.workItemTypes)

	case strings.HasSuffix(path, "/_apis/wit/fields") && r.Method == http.MethodGet:
		m.data.Lock()
		defer m.data.Unlock()
		writeList(w, m.fields)

	case strings.HasSuffix(path, "/_apis/work/boards") && r.Method == http.MethodGet:
		m.data.Lock()
		defer m.data.Unlock()
		writeList(w, m.boards)

	case strings.Contains(path, "/_apis/work/boards/") && strings.HasSuffix(path, "/columns"):
		m.data.Lock()
		defer m.data.Unlock()
		writeList(w, m.columns)

	case strings.Contains(path, "/_apis/wit/workitems/$") && r.Method == http.MethodPost:
		m.handleCreateWorkItem(w, r)

	case strings.Contains(path, "/_apis/wit/workitems/") && r.Method == http.MethodGet:
		m.handleGetWorkItem(w, r)

	case strings.Contains(path, "/_apis/wit/workitems/") && r.Method == http.MethodPatch:
		m.handleUpdateWorkItem(w, r)

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "value": items})
}

func trailingID(path string) (int, bool) {
	idx := strings.LastIndex(path, "/")
	id, err := strconv.Atoi(path[idx+1:])
	return id, err == nil
}

// handleGetWorkItem handles GET requests for individual work items.
func (m *AzureDevOpsMockServer) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	id, ok := trailingID(r.URL.Path)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad id")
		return
	}
	m.data.Lock()
	defer m.data.Unlock()
	wi, found := m.workItems[id]
	if !found {
		writeError(w, http.StatusNotFound, "Work item not found")
		return
	}
	writeJSON(w, http.StatusOK, wi)
}

// handleCreateWorkItem handles POST requests to create work items.
func (m *AzureDevOpsMockServer) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var ops []azuredevops.PatchOperation
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	witName := r.URL.Path[strings.LastIndex(r.URL.Path, "$")+1:]

	m.data.Lock()
	defer m.data.Unlock()
	m.nextWorkItemID++
	id := m.nextWorkItemID
	wi := &azuredevops.WorkItem{
		ID:     id,
		Rev:    1,
		URL:    m.Server.URL + "/_apis/wit/workitems/" + strconv.Itoa(id),
		Fields: azuredevops.WorkItemFields{State: "New", WorkItemType: witName},
		Links: &azuredevops.WorkItemLinks{
			HTML: azuredevops.Link{Href: m.Server.URL + "/_workitems/edit/" + strconv.Itoa(id)},
		},
	}
	m.applyOps(wi, ops)
	m.workItems[id] = wi
	writeJSON(w, http.StatusOK, wi)
}

// handleUpdateWorkItem handles PATCH requests to update work items.
func (m *AzureDevOpsMockServer) handleUpdateWorkItem(w http.ResponseWriter, r *http.Request) {
	id, ok := trailingID(r.URL.Path)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad id")
		return
	}
	var ops []azuredevops.PatchOperation
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m.data.Lock()
	defer m.data.Unlock()
	wi, found := m.workItems[id]
	if !found {
		writeError(w, http.StatusNotFound, "Work item not found")
		return
	}
	m.applyOps(wi, ops)
	wi.Rev++
	writeJSON(w, http.StatusOK, wi)
}

// applyOps handles the field and relation paths the adapter writes.
// Callers hold m.data.
func (m *AzureDevOpsMockServer) applyOps(wi *azuredevops.WorkItem, ops []azuredevops.PatchOperation) {
	for _, op := range ops {
		switch op.Path {
		case "/fields/System.Title":
			wi.Fields.Title, _ = op.Value.(string)
		case "/fields/System.State":
			wi.Fields.State, _ = op.Value.(string)
		case "/fields/System.Tags":
			wi.Fields.Tags, _ = op.Value.(string)
		case "/fields/" + azuredevops.PhaseField:
			wi.Fields.CurrentPhase, _ = op.Value.(string)
		case "/relations/-":
			raw, _ := json.Marshal(op.Value)
			var rel azuredevops.Relation
			if json.Unmarshal(raw, &rel) == nil {
				m.relations[wi.ID] = append(m.relations[wi.ID], rel)
			}
		}
	}
}

// SetWorkItemTypes configures the project's work item types.
func (m *AzureDevOpsMockServer) SetWorkItemTypes(wits ...azuredevops.WorkItemType) {
	m.data.Lock()
	defer m.data.Unlock()
	m.workItemTypes = wits
}

// SetFields configures the project's field definitions.
func (m *AzureDevOpsMockServer) SetFields(fields ...azuredevops.Field) {
	m.data.Lock()
	defer m.data.Unlock()
	m.fields = fields
}

// SetBoard configures a single team board with columns.
func (m *AzureDevOpsMockServer) SetBoard(name string, columns ...azuredevops.BoardColumn) {
	m.data.Lock()
	defer m.data.Unlock()
	m.boards = []azuredevops.BoardReference{{ID: "board-" + strings.ToLower(name), Name: name}}
	m.columns = columns
}

// AddWorkItem adds a single work item to the mock data.
func (m *AzureDevOpsMockServer) AddWorkItem(workItem azuredevops.WorkItem) {
	m.data.Lock()
	defer m.data.Unlock()
	wi := workItem
	m.workItems[wi.ID] = &wi
}

// WorkItem returns a copy of the stored work item.
func (m *AzureDevOpsMockServer) WorkItem(id int) (azuredevops.WorkItem, bool) {
	m.data.Lock()
	defer m.data.Unlock()
	wi, ok := m.workItems[id]
	if !ok {
		return azuredevops.WorkItem{}, false
	}
	return *wi, true
}

// Relations returns the relations added to a work item.
func (m *AzureDevOpsMockServer) Relations(id int) []azuredevops.Relation {
	m.data.Lock()
	defer m.data.Unlock()
	return append([]azuredevops.Relation(nil), m.relations[id]...)
}

// Helper functions for creating test data

// MakeADOWorkItem creates a test Azure DevOps work item with common defaults.
func MakeADOWorkItem(id int, title, state string) azuredevops.WorkItem {
	return azuredevops.WorkItem{
		ID:  id,
		Rev: 1,
		URL: "https://dev.azure.com/testorg/testproj/_apis/wit/workitems/" + strconv.Itoa(id),
		Fields: azuredevops.WorkItemFields{
			Title:        title,
			State:        state,
			WorkItemType: "User Story",
		},
		Links: &azuredevops.WorkItemLinks{
			HTML: azuredevops.Link{
				Href: "https://dev.azure.com/testorg/testproj/_workitems/edit/" + strconv.Itoa(id),
			},
		},
	}
}

// MakeADOWorkItemType creates a work item type with the given states.
func MakeADOWorkItemType(name string, states ...string) azuredevops.WorkItemType {
	wit := azuredevops.WorkItemType{Name: name, ReferenceName: "Microsoft.VSTS.WorkItemTypes." + strings.ReplaceAll(name, " ", "")}
	for _, s := range states {
		wit.States = append(wit.States, azuredevops.WorkItemTypeState{Name: s})
	}
	return wit
}
