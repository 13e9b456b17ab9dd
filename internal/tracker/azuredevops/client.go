package azuredevops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/steveyegge/foundry/internal/tracker"
)

// Client provides methods to interact with the Azure DevOps REST API.
type Client struct {
	Organization string // Organization name or URL
	PAT          string // Personal Access Token
	BaseURL      string // Full base URL (derived from Organization)
	HTTPClient   *http.Client
}

// NewClient creates a new Azure DevOps client.
func NewClient(organization, pat string) *Client {
	// Handle both organization name and full URL
	baseURL := organization
	if !strings.HasPrefix(organization, "http") {
		baseURL = fmt.Sprintf("https://dev.azure.com/%s", organization)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Client{
		Organization: organization,
		PAT:          pat,
		BaseURL:      baseURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// doRequest performs an HTTP request with authentication. Non-2xx
// responses come back as *tracker.APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, contentType string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	// Add API version to path
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	reqURL := c.BaseURL + path + separator + "api-version=" + APIVersion

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Azure DevOps uses Basic auth with empty username and PAT as password
	auth := base64.StdEncoding.EncodeToString([]byte(":" + c.PAT))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	} else if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &tracker.APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

// GetWorkItemTypes lists the project's work item types with their states.
func (c *Client) GetWorkItemTypes(ctx context.Context, project string) ([]WorkItemType, error) {
	var resp listResponse[WorkItemType]
	if err := c.getJSON(ctx, fmt.Sprintf("/%s/_apis/wit/workitemtypes", url.PathEscape(project)), &resp); err != nil {
		return nil, fmt.Errorf("failed to list work item types: %w", err)
	}
	return resp.Value, nil
}

// GetCustomFields lists the project's fields, keeping only custom ones.
func (c *Client) GetCustomFields(ctx context.Context, project string) ([]Field, error) {
	var resp listResponse[Field]
	if err := c.getJSON(ctx, fmt.Sprintf("/%s/_apis/wit/fields", url.PathEscape(project)), &resp); err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	custom := make([]Field, 0, len(resp.Value))
	for _, f := range resp.Value {
		if strings.HasPrefix(f.ReferenceName, customFieldPrefix) {
			custom = append(custom, f)
		}
	}
	return custom, nil
}

// GetBoardColumns returns the columns of the team's first board. A team
// without boards yields no columns.
func (c *Client) GetBoardColumns(ctx context.Context, project, team string) ([]BoardColumn, error) {
	if team == "" {
		team = project + " Team"
	}
	base := fmt.Sprintf("/%s/%s/_apis/work/boards", url.PathEscape(project), url.PathEscape(team))

	var boards listResponse[BoardReference]
	if err := c.getJSON(ctx, base, &boards); err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	if len(boards.Value) == 0 {
		return nil, nil
	}

	var cols listResponse[BoardColumn]
	if err := c.getJSON(ctx, base+"/"+url.PathEscape(boards.Value[0].ID)+"/columns", &cols); err != nil {
		return nil, fmt.Errorf("failed to list board columns: %w", err)
	}
	return cols.Value, nil
}

// FetchWorkItem retrieves a single work item by ID. It returns
// tracker.ErrNotFound when the item does not exist.
func (c *Client) FetchWorkItem(ctx context.Context, project string, id int) (*WorkItem, error) {
	path := fmt.Sprintf("/%s/_apis/wit/workitems/%d", url.PathEscape(project), id)

	var workItem WorkItem
	if err := c.getJSON(ctx, path, &workItem); err != nil {
		var apiErr *tracker.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, tracker.ErrNotFound
		}
		return nil, err
	}
	return &workItem, nil
}

// CreateWorkItem creates a new work item.
func (c *Client) CreateWorkItem(ctx context.Context, project string, req tracker.CreateRequest) (*WorkItem, error) {
	ops := []PatchOperation{
		{Op: "add", Path: "/fields/System.Title", Value: req.Title},
	}

	if req.Description != "" {
		ops = append(ops, PatchOperation{
			Op: "add", Path: "/fields/System.Description", Value: req.Description,
		})
	}

	if req.State != "" {
		ops = append(ops, PatchOperation{
			Op: "add", Path: "/fields/System.State", Value: req.State,
		})
	}

	if req.Phase != "" {
		ops = append(ops, PatchOperation{
			Op: "add", Path: "/fields/" + PhaseField, Value: string(req.Phase),
		})
	}

	if len(req.Tags) > 0 {
		ops = append(ops, PatchOperation{
			Op: "add", Path: "/fields/System.Tags", Value: strings.Join(req.Tags, "; "),
		})
	}

	// Work item type must be URL encoded
	path := fmt.Sprintf("/%s/_apis/wit/workitems/$%s", url.PathEscape(project), url.PathEscape(req.WorkItemType))

	respBody, err := c.doRequest(ctx, http.MethodPost, path, ops, "application/json-patch+json")
	if err != nil {
		return nil, fmt.Errorf("failed to create work item: %w", err)
	}

	var workItem WorkItem
	if err := json.Unmarshal(respBody, &workItem); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}

	return &workItem, nil
}

// UpdateWorkItem applies patch operations to an existing work item.
func (c *Client) UpdateWorkItem(ctx context.Context, project string, id int, ops []PatchOperation) (*WorkItem, error) {
	path := fmt.Sprintf("/%s/_apis/wit/workitems/%d", url.PathEscape(project), id)

	respBody, err := c.doRequest(ctx, http.MethodPatch, path, ops, "application/json-patch+json")
	if err != nil {
		var apiErr *tracker.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, tracker.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update work item: %w", err)
	}

	var workItem WorkItem
	if err := json.Unmarshal(respBody, &workItem); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}

	return &workItem, nil
}

// BuildWorkItemURL returns the web URL for a work item.
func (c *Client) BuildWorkItemURL(project string, id int) string {
	return fmt.Sprintf("%s/%s/_workitems/edit/%d", c.BaseURL, url.PathEscape(project), id)
}

// ParseWorkItemID extracts the work item ID from a URL or a bare number.
func ParseWorkItemID(s string) (int, bool) {
	// URL format: https://dev.azure.com/org/project/_workitems/edit/123
	idStr := s
	if idx := strings.LastIndex(s, "/"); idx != -1 {
		idStr = s[idx+1:]
	}
	var id int
	if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
