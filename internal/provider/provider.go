package provider

import (
	"context"
	"errors"

	"github.com/issuepilot/issuepilot/internal/mergerisk"
)

// ErrUnsupported is returned when a backend doesn't support a given operation.
var ErrUnsupported = errors.New("operation not supported by this backend")

// Backend is the interface for issue and change-request hosting backends.
// Implementations handle provider-specific API calls: change-request
// retrieval with check results, merge execution, reverts, status comments,
// and author history lookups.
type Backend interface {
	// Name returns the short identifier for this backend (e.g., "github").
	Name() string

	// MatchesURL returns true if the given URL belongs to this backend's
	// hosting service.
	MatchesURL(url string) bool

	// GetChangeRequest retrieves a change request with its changed files,
	// line counts, and check results. repo is "owner/name".
	GetChangeRequest(ctx context.Context, repo string, number int) (*mergerisk.ChangeRequest, error)

	// Merge merges a change request using the given strategy and returns the
	// merge commit SHA.
	Merge(ctx context.Context, repo string, number int, strategy mergerisk.Strategy, message string) (string, error)

	// Revert opens and merges a revert of a previously merged change
	// request. Returns the number of the revert change request.
	Revert(ctx context.Context, repo string, number int, reason string) (int, error)

	// PostIssueComment posts a comment on an issue or change request.
	// Used for status projection and audit rationale.
	PostIssueComment(ctx context.Context, repo string, number int, body string) error

	// AuthorMergedCount returns how many merged change requests the author
	// has in the repository. Returns -1 with a nil error when the backend
	// cannot determine the count.
	AuthorMergedCount(ctx context.Context, repo, author string) (int, error)
}
