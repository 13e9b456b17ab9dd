package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
)

// GitHubSource implements Source using the go-github library.
type GitHubSource struct {
	client  *github.Client
	timeout time.Duration
}

var _ Source = (*GitHubSource)(nil)

// NewGitHubSource creates a source with the provided token.
// If token is empty, creates an unauthenticated client (limited to 60 req/hour).
func NewGitHubSource(token string) *GitHubSource {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubSource{client: client, timeout: 10 * time.Second}
}

// NewGitHubSourceWithHTTPClient creates a source with a custom HTTP client.
// This is primarily used for testing with httptest servers.
func NewGitHubSourceWithHTTPClient(httpClient *http.Client, baseURL string) *GitHubSource {
	client := github.NewClient(httpClient)
	if baseURL != "" {
		client, _ = client.WithEnterpriseURLs(baseURL, baseURL)
	}
	return &GitHubSource{client: client, timeout: 10 * time.Second}
}

// Provider returns ProviderGitHub.
func (s *GitHubSource) Provider() Provider { return ProviderGitHub }

// Commit fetches a commit by hash from the repository at repoURL.
func (s *GitHubSource) Commit(ctx context.Context, repoURL, hash string) (*CommitRef, error) {
	owner, repo, err := ParseGitHubRepo(repoURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rc, resp, err := s.client.Repositories.GetCommit(ctx, owner, repo, hash, nil)
	if err != nil {
		return nil, githubError(resp, err, "commit "+hash)
	}

	commit := rc.GetCommit()
	author := commit.GetAuthor().GetName()
	if author == "" {
		author = rc.GetAuthor().GetLogin()
	}
	return &CommitRef{
		Hash:       rc.GetSHA(),
		Message:    commit.GetMessage(),
		Author:     author,
		Timestamp:  commit.GetAuthor().GetDate().Time,
		URL:        rc.GetHTMLURL(),
		Repository: owner + "/" + repo,
		Provider:   ProviderGitHub,
		Mentions:   ExtractMentions(commit.GetMessage()),
	}, nil
}

// PullRequest fetches the pull request at prURL with its reviewers.
func (s *GitHubSource) PullRequest(ctx context.Context, prURL string) (*PullRequestRef, error) {
	owner, repo, number, err := ParseGitHubPullRequest(prURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pr, resp, err := s.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, githubError(resp, err, fmt.Sprintf("pull request %d", number))
	}

	reviewers := make([]string, 0, len(pr.RequestedReviewers))
	seen := make(map[string]bool)
	add := func(login string) {
		if login != "" && !seen[login] {
			seen[login] = true
			reviewers = append(reviewers, login)
		}
	}
	for _, u := range pr.RequestedReviewers {
		add(u.GetLogin())
	}
	reviews, _, err := s.client.PullRequests.ListReviews(ctx, owner, repo, number, nil)
	if err != nil {
		return nil, fmt.Errorf("list reviews for pull request %d: %w", number, err)
	}
	for _, r := range reviews {
		add(r.GetUser().GetLogin())
	}

	return &PullRequestRef{
		ID:           pr.GetNumber(),
		Title:        pr.GetTitle(),
		Status:       pullRequestStatus(pr),
		Author:       pr.GetUser().GetLogin(),
		Reviewers:    reviewers,
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		URL:          pr.GetHTMLURL(),
		CreatedAt:    pr.GetCreatedAt().Time,
		Provider:     ProviderGitHub,
		Mentions:     ExtractMentions(pr.GetTitle() + "\n" + pr.GetBody()),
	}, nil
}

func pullRequestStatus(pr *github.PullRequest) string {
	switch {
	case pr.GetMerged():
		return "merged"
	case pr.GetState() == "closed":
		return "closed"
	case pr.GetDraft():
		return "draft"
	}
	return "open"
}

func githubError(resp *github.Response, err error, what string) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("rate limited fetching %s: %w", what, err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("abuse rate limited fetching %s: %w", what, err)
	}
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to fetch %s: %w", what, err)
}

// ParseGitHubRepo extracts owner and repo from a GitHub URL. Supports
// SSH (git@github.com:owner/repo.git) and HTTPS forms; any path after
// the repository name is ignored.
func ParseGitHubRepo(rawURL string) (owner, repo string, err error) {
	rawURL = strings.TrimSpace(rawURL)

	var path string
	switch {
	case strings.HasPrefix(rawURL, "git@github.com:"):
		path = strings.TrimPrefix(rawURL, "git@github.com:")
	case strings.HasPrefix(rawURL, "https://github.com/"):
		path = strings.TrimPrefix(rawURL, "https://github.com/")
	case strings.HasPrefix(rawURL, "http://github.com/"):
		path = strings.TrimPrefix(rawURL, "http://github.com/")
	default:
		return "", "", fmt.Errorf("not a GitHub URL: %s", rawURL)
	}

	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GitHub URL: %s", rawURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// ParseGitHubPullRequest parses https://github.com/owner/repo/pull/123.
func ParseGitHubPullRequest(prURL string) (owner, repo string, number int, err error) {
	owner, repo, err = ParseGitHubRepo(prURL)
	if err != nil {
		return "", "", 0, err
	}
	_, rest, _ := strings.Cut(strings.TrimSpace(prURL), "/"+owner+"/"+repo+"/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] != "pull" {
		return "", "", 0, fmt.Errorf("not a GitHub pull request URL: %s", prURL)
	}
	number, err = strconv.Atoi(parts[1])
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("invalid pull request number in %s", prURL)
	}
	return owner, repo, number, nil
}
