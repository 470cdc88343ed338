package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/issuepilot/issuepilot/internal/mergerisk"
)

// MockBackend is a hand-written Backend for tests. Configure the maps and
// error fields, then inspect the recorded calls.
type MockBackend struct {
	mu sync.Mutex

	BackendName string
	Matches     func(url string) bool

	// ChangeRequests maps "repo#number" to a canned change request.
	ChangeRequests map[string]*mergerisk.ChangeRequest
	// MergedCounts maps "repo/author" to a canned merged-count.
	MergedCounts map[string]int

	GetErr    error
	MergeErr  error
	RevertErr error
	PostErr   error
	CountErr  error

	// MergeSHA is returned from Merge (default "mergesha").
	MergeSHA string
	// RevertNumber is returned from Revert (default 9000).
	RevertNumber int

	MergeCalls  []MergeCall
	RevertCalls []RevertCall
	Comments    []CommentCall
}

// MergeCall records one Merge invocation.
type MergeCall struct {
	Repo     string
	Number   int
	Strategy mergerisk.Strategy
	Message  string
}

// RevertCall records one Revert invocation.
type RevertCall struct {
	Repo   string
	Number int
	Reason string
}

// CommentCall records one PostIssueComment invocation.
type CommentCall struct {
	Repo   string
	Number int
	Body   string
}

// NewMockBackend creates a MockBackend with empty maps.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		BackendName:    "mock",
		ChangeRequests: make(map[string]*mergerisk.ChangeRequest),
		MergedCounts:   make(map[string]int),
		MergeSHA:       "mergesha",
		RevertNumber:   9000,
	}
}

func (m *MockBackend) Name() string {
	if m.BackendName == "" {
		return "mock"
	}
	return m.BackendName
}

func (m *MockBackend) MatchesURL(url string) bool {
	if m.Matches != nil {
		return m.Matches(url)
	}
	return true
}

func (m *MockBackend) GetChangeRequest(_ context.Context, repo string, number int) (*mergerisk.ChangeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	cr, ok := m.ChangeRequests[fmt.Sprintf("%s#%d", repo, number)]
	if !ok {
		return nil, fmt.Errorf("change request %s#%d not found", repo, number)
	}
	return cr, nil
}

func (m *MockBackend) Merge(_ context.Context, repo string, number int, strategy mergerisk.Strategy, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MergeErr != nil {
		return "", m.MergeErr
	}
	m.MergeCalls = append(m.MergeCalls, MergeCall{Repo: repo, Number: number, Strategy: strategy, Message: message})
	return m.MergeSHA, nil
}

func (m *MockBackend) Revert(_ context.Context, repo string, number int, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RevertErr != nil {
		return 0, m.RevertErr
	}
	m.RevertCalls = append(m.RevertCalls, RevertCall{Repo: repo, Number: number, Reason: reason})
	return m.RevertNumber, nil
}

func (m *MockBackend) PostIssueComment(_ context.Context, repo string, number int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PostErr != nil {
		return m.PostErr
	}
	m.Comments = append(m.Comments, CommentCall{Repo: repo, Number: number, Body: body})
	return nil
}

func (m *MockBackend) AuthorMergedCount(_ context.Context, repo, author string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountErr != nil {
		return -1, m.CountErr
	}
	if count, ok := m.MergedCounts[repo+"/"+author]; ok {
		return count, nil
	}
	return -1, nil
}

// CommentBodies returns the bodies of all posted comments, for assertions.
func (m *MockBackend) CommentBodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	bodies := make([]string, 0, len(m.Comments))
	for _, c := range m.Comments {
		bodies = append(bodies, c.Body)
	}
	return bodies
}

var _ Backend = (*MockBackend)(nil)
