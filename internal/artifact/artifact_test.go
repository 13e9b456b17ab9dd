package artifact

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		in   string
		want Provider
	}{
		{"https://dev.azure.com/contoso/manufacturing/_git/parser", ProviderAzureRepos},
		{"https://contoso.visualstudio.com/manufacturing/_git/parser", ProviderAzureRepos},
		{"https://github.com/contoso/parser", ProviderGitHub},
		{"https://github.com/contoso/parser/pull/12", ProviderGitHub},
		{"https://gitlab.com/contoso/parser", ProviderGitLab},
		{"https://gitlab.internal.example/contoso/parser", ProviderGitLab},
		{"https://bitbucket.org/contoso/parser", ProviderUnknown},
		{"not a url", ProviderUnknown},
		{"", ProviderUnknown},
	}
	for _, tt := range tests {
		if got := DetectProvider(tt.in); got != tt.want {
			t.Errorf("DetectProvider(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		text string
		want []int
	}{
		{"Fix parser AB#123", []int{123}},
		{"Closes #45 and #46", []int{45, 46}},
		{"AB#7 relates to #7 and #8", []int{7, 8}},
		{"no references here", nil},
		{"issue#0 is not an id", nil},
		{"multi\nline AB#9\n#10", []int{9, 10}},
	}
	for _, tt := range tests {
		if got := ExtractMentions(tt.text); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExtractMentions(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestCommitLink(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := CommitRef{
		Hash:       "0123456789abcdef",
		Message:    "Add tokenizer AB#12\n\nLonger body",
		Author:     "Riley",
		URL:        "https://github.com/contoso/parser/commit/0123456789abcdef",
		Repository: "contoso/parser",
		Provider:   ProviderGitHub,
	}
	if got := c.Short(); got != "0123456" {
		t.Errorf("Short() = %q", got)
	}
	link := c.Link(now)
	if link.Kind != KindCommit || link.Title != "Add tokenizer AB#12" {
		t.Errorf("Link() = %+v", link)
	}
	if link.Attributes["hash"] != c.Hash || link.Attributes["author"] != "Riley" {
		t.Errorf("attributes = %v", link.Attributes)
	}
	if !link.AttachedAt.Equal(now) {
		t.Errorf("AttachedAt = %v", link.AttachedAt)
	}
}

func TestPullRequestLink(t *testing.T) {
	pr := PullRequestRef{
		ID: 12, Title: "Add parser", Status: "open",
		Reviewers: []string{"sam", "jo"}, SourceBranch: "feature/parser", TargetBranch: "main",
		URL: "https://github.com/contoso/parser/pull/12", Provider: ProviderGitHub,
	}
	link := pr.Link(time.Time{})
	if link.Kind != KindPullRequest || link.Provider != "github" {
		t.Errorf("Link() = %+v", link)
	}
	if link.Attributes["reviewers"] != "sam,jo" || link.Attributes["id"] != "12" {
		t.Errorf("attributes = %v", link.Attributes)
	}
}

type stubSource struct{ provider Provider }

func (s stubSource) Provider() Provider { return s.provider }
func (s stubSource) Commit(ctx context.Context, repoURL, hash string) (*CommitRef, error) {
	return &CommitRef{Hash: hash, Provider: s.provider}, nil
}
func (s stubSource) PullRequest(ctx context.Context, prURL string) (*PullRequestRef, error) {
	return &PullRequestRef{URL: prURL, Provider: s.provider}, nil
}

func TestResolver(t *testing.T) {
	r := NewResolver(stubSource{ProviderGitHub})

	c, err := r.Commit(context.Background(), "https://github.com/contoso/parser", "abc")
	if err != nil || c.Hash != "abc" {
		t.Fatalf("Commit() = %+v, %v", c, err)
	}

	_, err = r.PullRequest(context.Background(), "https://gitlab.com/contoso/parser/-/merge_requests/3")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("PullRequest() error = %v, want ErrUnsupported", err)
	}

	r.Register(stubSource{ProviderGitLab})
	if _, err := r.PullRequest(context.Background(), "https://gitlab.com/contoso/parser/-/merge_requests/3"); err != nil {
		t.Errorf("after Register: %v", err)
	}
}
