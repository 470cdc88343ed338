package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/issuepilot/issuepilot/internal/mergerisk"
	"github.com/issuepilot/issuepilot/internal/provider"
)

// Backend implements provider.Backend for GitHub.
type Backend struct {
	client    *gh.Client
	gqlOnce   sync.Once
	gqlClient *githubv4.Client
	token     string
}

// NewBackend creates a new GitHub backend.
// Uses go-github-ratelimit middleware for automatic rate limit handling.
func NewBackend(token string) *Backend {
	rateLimiter := github_ratelimit.NewClient(nil)
	client := gh.NewClient(rateLimiter).WithAuthToken(token)
	return &Backend{
		client: client,
		token:  token,
	}
}

// Name returns "github".
func (b *Backend) Name() string {
	return "github"
}

// MatchesURL returns true if the URL belongs to GitHub.
func (b *Backend) MatchesURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "github.com" || host == "www.github.com"
}

// GetChangeRequest retrieves a pull request with its changed files and check
// results mapped into the merge-risk domain types.
func (b *Backend) GetChangeRequest(ctx context.Context, repo string, number int) (*mergerisk.ChangeRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	pr, _, err := b.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}

	cr := &mergerisk.ChangeRequest{
		Repo:      repo,
		Number:    number,
		Author:    pr.GetUser().GetLogin(),
		Message:   pr.GetTitle(),
		Additions: pr.GetAdditions(),
		Deletions: pr.GetDeletions(),
	}
	if n := linkedIssueNumber(pr.GetBody()); n != 0 {
		cr.IssueNumber = n
	}

	// Changed files, paginated.
	fileOpts := &gh.ListOptions{PerPage: 100}
	for {
		files, resp, err := b.client.PullRequests.ListFiles(ctx, owner, name, number, fileOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to list changed files: %w", err)
		}
		for _, f := range files {
			cr.Files = append(cr.Files, f.GetFilename())
		}
		if resp.NextPage == 0 {
			break
		}
		fileOpts.Page = resp.NextPage
	}

	checks, err := b.listChecks(ctx, owner, name, pr.GetHead().GetSHA())
	if err != nil {
		return nil, err
	}
	cr.Checks = checks

	return cr, nil
}

// listChecks maps check runs for a commit into CheckResults. Required-ness
// comes from the base branch's protection contexts; when protection cannot be
// read, every check is treated as required.
func (b *Backend) listChecks(ctx context.Context, owner, name, headSHA string) ([]mergerisk.CheckResult, error) {
	if headSHA == "" {
		return nil, fmt.Errorf("pull request head SHA is empty")
	}

	required := b.requiredContexts(ctx, owner, name)

	var checks []mergerisk.CheckResult
	opts := &gh.ListCheckRunsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		result, resp, err := b.client.Checks.ListCheckRunsForRef(ctx, owner, name, headSHA, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list check runs: %w", err)
		}
		for _, run := range result.CheckRuns {
			checks = append(checks, mergerisk.CheckResult{
				Name:     run.GetName(),
				State:    mapCheckState(run.GetStatus(), run.GetConclusion()),
				Required: required == nil || required[run.GetName()],
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	// Legacy commit statuses.
	combined, _, err := b.client.Repositories.GetCombinedStatus(ctx, owner, name, headSHA, &gh.ListOptions{PerPage: 100})
	if err != nil {
		slog.Warn("failed to get combined status", "error", err)
		return checks, nil
	}
	for _, s := range combined.Statuses {
		checks = append(checks, mergerisk.CheckResult{
			Name:     s.GetContext(),
			State:    mapStatusState(s.GetState()),
			Required: required == nil || required[s.GetContext()],
		})
	}
	return checks, nil
}

// requiredContexts returns the set of protected status check names for the
// default branch, or nil when protection cannot be read.
func (b *Backend) requiredContexts(ctx context.Context, owner, name string) map[string]bool {
	repo, _, err := b.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil
	}
	protection, _, err := b.client.Repositories.GetBranchProtection(ctx, owner, name, repo.GetDefaultBranch())
	if err != nil {
		// 404 when the branch has no protection; anything else is a
		// permissions or transport problem. Either way, be conservative.
		return nil
	}
	rsc := protection.GetRequiredStatusChecks()
	if rsc == nil {
		return nil
	}
	required := make(map[string]bool)
	if rsc.Contexts != nil {
		for _, c := range *rsc.Contexts {
			required[c] = true
		}
	}
	if len(required) == 0 {
		return nil
	}
	return required
}

// Merge merges a pull request and returns the merge commit SHA.
func (b *Backend) Merge(ctx context.Context, repo string, number int, strategy mergerisk.Strategy, message string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	opts := &gh.PullRequestOptions{MergeMethod: mergeMethod(strategy)}
	result, _, err := b.client.PullRequests.Merge(ctx, owner, name, number, message, opts)
	if err != nil {
		return "", fmt.Errorf("failed to merge pull request: %w", err)
	}
	if !result.GetMerged() {
		return "", fmt.Errorf("merge was not performed: %s", result.GetMessage())
	}
	return result.GetSHA(), nil
}

// RevertPullRequestInput mirrors the GraphQL input object of the same name.
type RevertPullRequestInput struct {
	PullRequestID githubv4.ID       `json:"pullRequestId"`
	Title         *githubv4.String  `json:"title,omitempty"`
	Body          *githubv4.String  `json:"body,omitempty"`
	Draft         *githubv4.Boolean `json:"draft,omitempty"`
}

// Revert opens a revert pull request via the GraphQL API and returns its
// number. REST has no revert operation; GraphQL is required.
func (b *Backend) Revert(ctx context.Context, repo string, number int, reason string) (int, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, err
	}
	gql := b.getGraphQLClient(ctx)

	var query struct {
		Repository struct {
			PullRequest struct {
				ID githubv4.ID
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"number": githubv4.Int(number),
	}
	if err := gql.Query(ctx, &query, vars); err != nil {
		return 0, fmt.Errorf("failed to look up pull request node: %w", err)
	}

	var mutation struct {
		RevertPullRequest struct {
			RevertPullRequest struct {
				Number githubv4.Int
			}
		} `graphql:"revertPullRequest(input: $input)"`
	}
	title := githubv4.String(fmt.Sprintf("Revert #%d", number))
	body := githubv4.String(reason)
	input := RevertPullRequestInput{
		PullRequestID: query.Repository.PullRequest.ID,
		Title:         &title,
		Body:          &body,
	}
	if err := gql.Mutate(ctx, &mutation, input, nil); err != nil {
		return 0, fmt.Errorf("failed to revert pull request: %w", err)
	}
	return int(mutation.RevertPullRequest.RevertPullRequest.Number), nil
}

// PostIssueComment posts a comment on an issue or pull request.
func (b *Backend) PostIssueComment(ctx context.Context, repo string, number int, body string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = b.client.Issues.CreateComment(ctx, owner, name, number, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("failed to post comment: %w", err)
	}
	return nil
}

// AuthorMergedCount counts the author's merged pull requests in the
// repository via a GraphQL search. Returns -1 with a nil error on failure so
// callers treat the count as unknown rather than zero.
func (b *Backend) AuthorMergedCount(ctx context.Context, repo, author string) (int, error) {
	gql := b.getGraphQLClient(ctx)

	var query struct {
		Search struct {
			IssueCount githubv4.Int
		} `graphql:"search(query: $query, type: ISSUE, first: 1)"`
	}
	vars := map[string]interface{}{
		"query": githubv4.String(fmt.Sprintf("repo:%s is:pr is:merged author:%s", repo, author)),
	}
	if err := gql.Query(ctx, &query, vars); err != nil {
		slog.Warn("merged count lookup failed", "repo", repo, "author", author, "error", err)
		return -1, nil
	}
	return int(query.Search.IssueCount), nil
}

// getGraphQLClient returns (and lazily creates) the GitHub GraphQL client.
// Thread-safe via sync.Once.
func (b *Backend) getGraphQLClient(ctx context.Context) *githubv4.Client {
	b.gqlOnce.Do(func() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: b.token})
		httpClient := oauth2.NewClient(ctx, ts)
		b.gqlClient = githubv4.NewClient(httpClient)
	})
	return b.gqlClient
}

// Verify Backend implements provider.Backend at compile time.
var _ provider.Backend = (*Backend)(nil)
