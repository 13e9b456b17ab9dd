// Package artifact normalizes development artifacts from Git platforms
// into the shapes the orchestrator attaches to work items. Platform
// clients implement Source; everything downstream sees only CommitRef
// and PullRequestRef.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/foundry/internal/types"
)

// Provider identifies a Git hosting platform.
type Provider string

const (
	ProviderAzureRepos Provider = "azure_repos"
	ProviderGitHub     Provider = "github"
	ProviderGitLab     Provider = "gitlab"
	ProviderUnknown    Provider = "unknown"
)

// Artifact kinds recorded on work items.
const (
	KindCommit      = "commit"
	KindPullRequest = "pull_request"
	KindBuild       = "build"
	KindDeployment  = "deployment"
)

// ErrNotFound is returned when the platform has no such commit or pull request.
var ErrNotFound = errors.New("artifact not found")

// ErrUnsupported is returned when no source is registered for a provider.
var ErrUnsupported = errors.New("unsupported artifact provider")

// DetectProvider classifies a repository or pull request URL by host.
func DetectProvider(rawURL string) Provider {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ProviderUnknown
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "dev.azure.com" || strings.HasSuffix(host, ".visualstudio.com"):
		return ProviderAzureRepos
	case host == "github.com" || strings.HasSuffix(host, ".github.com"):
		return ProviderGitHub
	case strings.Contains(host, "gitlab"):
		return ProviderGitLab
	}
	return ProviderUnknown
}

// CommitRef is a normalized commit.
type CommitRef struct {
	Hash       string    `json:"hash"`
	Message    string    `json:"message"`
	Author     string    `json:"author"`
	Timestamp  time.Time `json:"timestamp"`
	URL        string    `json:"url,omitempty"`
	Repository string    `json:"repository,omitempty"`
	Provider   Provider  `json:"provider"`
	Mentions   []int     `json:"mentions,omitempty"` // work item ids referenced in the message
}

// Short returns the first seven characters of the hash.
func (c CommitRef) Short() string {
	if len(c.Hash) > 7 {
		return c.Hash[:7]
	}
	return c.Hash
}

// Link converts the commit into a work item artifact link.
func (c CommitRef) Link(now time.Time) types.ArtifactLink {
	title, _, _ := strings.Cut(c.Message, "\n")
	attrs := map[string]string{"hash": c.Hash}
	if c.Author != "" {
		attrs["author"] = c.Author
	}
	if c.Repository != "" {
		attrs["repository"] = c.Repository
	}
	return types.ArtifactLink{
		Kind:       KindCommit,
		URL:        c.URL,
		Title:      strings.TrimSpace(title),
		Provider:   string(c.Provider),
		AttachedAt: now,
		Attributes: attrs,
	}
}

// PullRequestRef is a normalized pull request.
type PullRequestRef struct {
	ID           int       `json:"id"`
	Title        string    `json:"title"`
	Status       string    `json:"status"` // open, draft, merged, closed
	Author       string    `json:"author,omitempty"`
	Reviewers    []string  `json:"reviewers,omitempty"`
	SourceBranch string    `json:"source_branch,omitempty"`
	TargetBranch string    `json:"target_branch,omitempty"`
	URL          string    `json:"url"`
	CreatedAt    time.Time `json:"created_at"`
	Provider     Provider  `json:"provider"`
	Mentions     []int     `json:"mentions,omitempty"`
}

// Link converts the pull request into a work item artifact link.
func (p PullRequestRef) Link(now time.Time) types.ArtifactLink {
	attrs := map[string]string{
		"id":     strconv.Itoa(p.ID),
		"status": p.Status,
	}
	if len(p.Reviewers) > 0 {
		attrs["reviewers"] = strings.Join(p.Reviewers, ",")
	}
	if p.SourceBranch != "" {
		attrs["source_branch"] = p.SourceBranch
	}
	if p.TargetBranch != "" {
		attrs["target_branch"] = p.TargetBranch
	}
	return types.ArtifactLink{
		Kind:       KindPullRequest,
		URL:        p.URL,
		Title:      p.Title,
		Provider:   string(p.Provider),
		AttachedAt: now,
		Attributes: attrs,
	}
}

var mentionPattern = regexp.MustCompile(`(?:\bAB)?#(\d+)\b`)

// ExtractMentions returns the work item ids referenced as "#123" or
// "AB#123" in text, in order of first appearance.
func ExtractMentions(text string) []int {
	var ids []int
	seen := make(map[int]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil || id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Source fetches artifacts from one Git platform.
type Source interface {
	Provider() Provider
	Commit(ctx context.Context, repoURL, hash string) (*CommitRef, error)
	PullRequest(ctx context.Context, prURL string) (*PullRequestRef, error)
}

// Resolver picks a Source by the provider detected from a URL.
type Resolver struct {
	mu      sync.RWMutex
	sources map[Provider]Source
}

// NewResolver registers the given sources.
func NewResolver(sources ...Source) *Resolver {
	r := &Resolver{sources: make(map[Provider]Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the source for its provider.
func (r *Resolver) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Provider()] = s
}

func (r *Resolver) sourceFor(rawURL string) (Source, error) {
	p := DetectProvider(rawURL)
	r.mu.RLock()
	s, ok := r.sources[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s (%s): %w", p, rawURL, ErrUnsupported)
	}
	return s, nil
}

// Commit fetches a commit from the platform hosting repoURL.
func (r *Resolver) Commit(ctx context.Context, repoURL, hash string) (*CommitRef, error) {
	s, err := r.sourceFor(repoURL)
	if err != nil {
		return nil, err
	}
	return s.Commit(ctx, repoURL, hash)
}

// PullRequest fetches the pull request at prURL.
func (r *Resolver) PullRequest(ctx context.Context, prURL string) (*PullRequestRef, error) {
	s, err := r.sourceFor(prURL)
	if err != nil {
		return nil, err
	}
	return s.PullRequest(ctx, prURL)
}
