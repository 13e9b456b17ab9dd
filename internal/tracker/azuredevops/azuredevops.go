package azuredevops

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/foundry/internal/tracker"
	"github.com/steveyegge/foundry/internal/types"
)

// Name is the registry name of this tracker.
const Name = "azuredevops"

func init() {
	// Register the Azure DevOps tracker plugin
	tracker.Register(Name, func(cfg tracker.Config) (tracker.RemoteClient, error) {
		return New(cfg)
	})
}

// Tracker implements tracker.RemoteClient and tracker.ArtifactLinker for
// Azure DevOps. Work item operations address the configured project.
type Tracker struct {
	client  *Client
	project string
	team    string
}

var (
	_ tracker.RemoteClient   = (*Tracker)(nil)
	_ tracker.ArtifactLinker = (*Tracker)(nil)
)

// New builds a tracker from cfg. Organization, project and PAT are required.
func New(cfg tracker.Config) (*Tracker, error) {
	if err := cfg.Require("tracker", "organization", "project", "pat"); err != nil {
		return nil, err
	}
	client := NewClient(cfg.Organization, cfg.PAT)
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}
	return &Tracker{client: client, project: cfg.Project, team: cfg.Team}, nil
}

// Name returns the tracker identifier.
func (t *Tracker) Name() string {
	return Name
}

// Close releases any resources.
func (t *Tracker) Close() error {
	return nil
}

func (t *Tracker) validate() error {
	if t == nil || t.client == nil {
		return &tracker.ErrNotInitialized{Tracker: Name}
	}
	return nil
}

// FetchStructure reads work item types, board columns, and custom fields
// concurrently and combines them. Any failed request fails the fetch.
func (t *Tracker) FetchStructure(ctx context.Context, key types.SnapshotKey) (*types.RawStructure, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	team := t.team
	if !strings.EqualFold(key.Project, t.project) {
		team = ""
	}

	var (
		wits   []WorkItemType
		cols   []BoardColumn
		fields []Field
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wits, err = t.client.GetWorkItemTypes(gctx, key.Project)
		return err
	})
	g.Go(func() error {
		var err error
		cols, err = t.client.GetBoardColumns(gctx, key.Project, team)
		return err
	})
	g.Go(func() error {
		var err error
		fields, err = t.client.GetCustomFields(gctx, key.Project)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch structure for %s: %w", key, err)
	}
	return toRawStructure(key, wits, cols, fields), nil
}

// UpdateState sets System.State and the phase marker on the work item.
func (t *Tracker) UpdateState(ctx context.Context, externalID string, to tracker.RemoteState) error {
	if err := t.validate(); err != nil {
		return err
	}
	id, err := parseID(externalID)
	if err != nil {
		return err
	}
	_, err = t.client.UpdateWorkItem(ctx, t.project, id, stateOps(to))
	return err
}

// GetState returns the work item's System.State and phase marker.
func (t *Tracker) GetState(ctx context.Context, externalID string) (tracker.RemoteState, error) {
	if err := t.validate(); err != nil {
		return tracker.RemoteState{}, err
	}
	id, err := parseID(externalID)
	if err != nil {
		return tracker.RemoteState{}, err
	}
	wi, err := t.client.FetchWorkItem(ctx, t.project, id)
	if err != nil {
		return tracker.RemoteState{}, err
	}
	return tracker.RemoteState{State: wi.Fields.State, Phase: types.Phase(wi.Fields.CurrentPhase)}, nil
}

// CreateWorkItem creates a work item in the configured project.
func (t *Tracker) CreateWorkItem(ctx context.Context, req tracker.CreateRequest) (*tracker.RemoteWorkItem, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if req.WorkItemType == "" {
		return nil, fmt.Errorf("work item type is required")
	}
	wi, err := t.client.CreateWorkItem(ctx, t.project, req)
	if err != nil {
		return nil, err
	}
	webURL := t.client.BuildWorkItemURL(t.project, wi.ID)
	if wi.Links != nil && wi.Links.HTML.Href != "" {
		webURL = wi.Links.HTML.Href
	}
	witName := wi.Fields.WorkItemType
	if witName == "" {
		witName = req.WorkItemType
	}
	return &tracker.RemoteWorkItem{
		ExternalID:   strconv.Itoa(wi.ID),
		URL:          webURL,
		State:        wi.Fields.State,
		WorkItemType: witName,
	}, nil
}

// LinkArtifact adds the artifact as a hyperlink relation.
func (t *Tracker) LinkArtifact(ctx context.Context, externalID string, link types.ArtifactLink) error {
	if err := t.validate(); err != nil {
		return err
	}
	if link.URL == "" {
		return fmt.Errorf("artifact link requires a URL")
	}
	id, err := parseID(externalID)
	if err != nil {
		return err
	}
	_, err = t.client.UpdateWorkItem(ctx, t.project, id, hyperlinkOps(link))
	return err
}

func parseID(externalID string) (int, error) {
	id, ok := ParseWorkItemID(externalID)
	if !ok {
		return 0, fmt.Errorf("invalid work item ID: %s", externalID)
	}
	return id, nil
}
