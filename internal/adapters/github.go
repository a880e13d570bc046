// Package adapters holds outbound collaborator clients. The GitHub adapter
// turns a repository's commit log into the neutral commit model the activity
// aggregator consumes.
package adapters

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/trustchain-labs/trustchain/internal/activity"
	"github.com/trustchain-labs/trustchain/internal/errors"
	"github.com/trustchain-labs/trustchain/internal/resilience"
)

const (
	defaultBaseURL = "https://api.github.com"
	commitsPerPage = 100
	// maxCommitPages caps a pathological history fetch at 10k commits
	maxCommitPages = 100
)

var repoURLPattern = regexp.MustCompile(`(?:github\.com[:/])?([\w.-]+)/([\w.-]+?)(?:\.git)?/?$`)

// GitHubAdapter fetches commit history from the GitHub REST API
type GitHubAdapter struct {
	baseURL string
	token   string
	pool    *resilience.HTTPPool
	retry   resilience.RetryConfig
}

var _ activity.HistoryProvider = (*GitHubAdapter)(nil)

// NewGitHubAdapter creates a GitHub adapter with connection pooling and a
// circuit breaker. An empty token means unauthenticated requests, which hit
// GitHub's lower rate limits.
func NewGitHubAdapter(token string) *GitHubAdapter {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
	})

	return &GitHubAdapter{
		baseURL: defaultBaseURL,
		token:   token,
		pool:    resilience.NewHTTPPool(10, 20, 30*time.Second, cb),
		retry:   resilience.DefaultRetryConfig(),
	}
}

// commitListItem is one entry of the commit list endpoint
type commitListItem struct {
	SHA    string `json:"sha"`
	Commit struct {
		Author struct {
			Name  string    `json:"name"`
			Email string    `json:"email"`
			Date  time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
}

// commitDetail is the single-commit endpoint's shape, carrying per-file stats
type commitDetail struct {
	Files []struct {
		Filename  string `json:"filename"`
		Additions int    `json:"additions"`
		Deletions int    `json:"deletions"`
	} `json:"files"`
}

// Commits fetches the commit history of repoURL in [since, until), including
// per-file line stats. Merge commits are returned without file details; the
// aggregator excludes them anyway.
func (g *GitHubAdapter) Commits(ctx context.Context, repoURL string, since, until time.Time) ([]activity.Commit, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	items, err := g.listCommits(ctx, owner, repo, since, until)
	if err != nil {
		return nil, err
	}

	commits := make([]activity.Commit, 0, len(items))
	for _, item := range items {
		commit := activity.Commit{
			SHA:         item.SHA,
			AuthorID:    authorIdentity(item),
			Timestamp:   item.Commit.Author.Date,
			ParentCount: len(item.Parents),
		}

		if commit.ParentCount <= 1 {
			detail, err := g.fetchCommitDetail(ctx, owner, repo, item.SHA)
			if err != nil {
				return nil, err
			}
			for _, f := range detail.Files {
				commit.Files = append(commit.Files, activity.FileChange{
					Path:       f.Filename,
					Insertions: f.Additions,
					Deletions:  f.Deletions,
				})
			}
		}

		commits = append(commits, commit)
	}
	return commits, nil
}

func (g *GitHubAdapter) listCommits(ctx context.Context, owner, repo string, since, until time.Time) ([]commitListItem, error) {
	var all []commitListItem

	for page := 1; page <= maxCommitPages; page++ {
		endpoint := fmt.Sprintf("%s/repos/%s/%s/commits?since=%s&until=%s&per_page=%d&page=%d",
			g.baseURL, owner, repo,
			url.QueryEscape(since.UTC().Format(time.RFC3339)),
			url.QueryEscape(until.UTC().Format(time.RFC3339)),
			commitsPerPage, page)

		var items []commitListItem
		if err := g.getJSON(ctx, endpoint, &items); err != nil {
			return nil, err
		}
		all = append(all, items...)

		if len(items) < commitsPerPage {
			break
		}
	}
	return all, nil
}

func (g *GitHubAdapter) fetchCommitDetail(ctx context.Context, owner, repo, sha string) (*commitDetail, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits/%s", g.baseURL, owner, repo, sha)
	var detail commitDetail
	if err := g.getJSON(ctx, endpoint, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// getJSON performs one GET with retry on transient statuses and decodes the
// response body into out.
func (g *GitHubAdapter) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	headers := map[string]string{
		"Accept":     "application/vnd.github.v3+json",
		"User-Agent": "TrustChain/1.0",
	}
	if g.token != "" {
		headers["Authorization"] = "Bearer " + g.token
	}

	err := resilience.Retry(ctx, g.retry, isTransient, func() error {
		resp, err := g.pool.DoRequest(ctx, http.MethodGet, endpoint, headers)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("github API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resilience.RetryableStatus(resp.StatusCode) {
				return err
			}
			return permanentError{err}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return permanentError{fmt.Errorf("failed to decode response: %w", err)}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewCollaboratorTimeout("github", err)
		}
		return errors.NewCollaboratorError("github", err)
	}
	return nil
}

// permanentError marks failures another attempt cannot fix
type permanentError struct{ error }

func (e permanentError) Unwrap() error { return e.error }

func isTransient(err error) bool {
	var pe permanentError
	if stderrors.As(err, &pe) {
		return false
	}
	// An open breaker already absorbed repeated failures
	var cbe *resilience.CircuitBreakerError
	return !stderrors.As(err, &cbe)
}

// authorIdentity prefers the GitHub login; commits pushed with an unlinked
// email fall back to the recorded author email, then name.
func authorIdentity(item commitListItem) string {
	if item.Author != nil && item.Author.Login != "" {
		return item.Author.Login
	}
	if item.Commit.Author.Email != "" {
		return item.Commit.Author.Email
	}
	return item.Commit.Author.Name
}

// ParseRepoURL extracts owner and repository name from the common GitHub URL
// shapes: https, ssh, and a bare "owner/repo".
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(repoURL))
	if m == nil {
		return "", "", errors.NewValidationError("unrecognized repository URL", "repo_url", repoURL)
	}
	return m[1], m[2], nil
}

// BreakerState exposes the adapter's circuit breaker for health reporting
func (g *GitHubAdapter) BreakerState() resilience.CircuitBreakerState {
	return g.pool.BreakerState()
}

// Close releases pooled connections
func (g *GitHubAdapter) Close() error {
	return g.pool.Close()
}
