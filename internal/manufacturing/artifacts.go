package manufacturing

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/foundry/internal/artifact"
	"github.com/steveyegge/foundry/internal/tracker"
	"github.com/steveyegge/foundry/internal/types"
)

// ArtifactRequest names a development artifact to attach.
//
// For commits URL is the repository URL and Hash the commit. For pull
// requests URL is the pull request URL. Builds and deployments are
// attached as given, without a platform lookup.
type ArtifactRequest struct {
	Kind       string            `json:"kind"`
	URL        string            `json:"url"`
	Hash       string            `json:"hash,omitempty"`
	Title      string            `json:"title,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// AttachArtifact resolves the artifact, links it to the remote work item
// when the tracker supports links, and records it in the item's
// metadata. Attaching the same kind and URL again replaces the earlier
// entry. No phase change happens here.
func (o *Orchestrator) AttachArtifact(ctx context.Context, id string, req ArtifactRequest) (*types.ArtifactLink, error) {
	item, err := o.store.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	link, err := o.resolveArtifact(ctx, req)
	if err != nil {
		return nil, err
	}

	if linker, ok := o.remote.(tracker.ArtifactLinker); ok {
		if err := linker.LinkArtifact(ctx, item.ExternalID, link); err != nil {
			return nil, fmt.Errorf("link %s to remote item %s: %w", link.Kind, item.ExternalID, err)
		}
	}

	if _, err := o.updateMetadata(ctx, id, func(md *types.Metadata) error {
		for i, existing := range md.Artifacts {
			if existing.Kind == link.Kind && existing.URL == link.URL {
				md.Artifacts[i] = link
				return nil
			}
		}
		md.Artifacts = append(md.Artifacts, link)
		return nil
	}); err != nil {
		return nil, err
	}
	o.logger.Info("artifact attached", "id", id, "kind", link.Kind, "url", link.URL, "provider", link.Provider)
	return &link, nil
}

func (o *Orchestrator) resolveArtifact(ctx context.Context, req ArtifactRequest) (types.ArtifactLink, error) {
	now := o.clock.Now()
	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	if strings.TrimSpace(req.URL) == "" {
		return types.ArtifactLink{}, fmt.Errorf("artifact url is required")
	}

	var link types.ArtifactLink
	switch kind {
	case artifact.KindCommit:
		if req.Hash == "" {
			return link, fmt.Errorf("commit artifact requires a hash")
		}
		if o.artifacts == nil {
			return link, fmt.Errorf("commit %s: %w", req.Hash, artifact.ErrUnsupported)
		}
		c, err := o.artifacts.Commit(ctx, req.URL, req.Hash)
		if err != nil {
			return link, err
		}
		link = c.Link(now)
	case artifact.KindPullRequest:
		if o.artifacts == nil {
			return link, fmt.Errorf("pull request %s: %w", req.URL, artifact.ErrUnsupported)
		}
		pr, err := o.artifacts.PullRequest(ctx, req.URL)
		if err != nil {
			return link, err
		}
		link = pr.Link(now)
	case artifact.KindBuild, artifact.KindDeployment:
		link = types.ArtifactLink{
			Kind:       kind,
			URL:        req.URL,
			Title:      req.Title,
			Provider:   string(artifact.DetectProvider(req.URL)),
			AttachedAt: now,
		}
	default:
		return link, fmt.Errorf("unknown artifact kind %q", req.Kind)
	}

	if req.Title != "" {
		link.Title = req.Title
	}
	for k, v := range req.Attributes {
		if link.Attributes == nil {
			link.Attributes = make(map[string]string, len(req.Attributes))
		}
		link.Attributes[k] = v
	}
	return link, nil
}
