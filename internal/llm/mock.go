package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a test double for Client.
type MockClient struct {
	mu            sync.Mutex
	Sessions      map[string]*SessionInfo
	PromptResults map[string]string // sessionID -> response content
	DefaultResult string
	PromptHistory []PromptCall
	nextSessionID int
	CreateErr     error
	PromptErr     error
}

// PromptCall records a call to SendPrompt.
type PromptCall struct {
	SessionID string
	Prompt    string
}

// NewMockClient creates a new MockClient with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Sessions:      make(map[string]*SessionInfo),
		PromptResults: make(map[string]string),
		DefaultResult: "Mock LLM response",
	}
}

func (m *MockClient) CreateSession(_ context.Context, title string) (*SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.nextSessionID++
	id := fmt.Sprintf("mock-session-%d", m.nextSessionID)
	info := &SessionInfo{ID: id, Title: title}
	m.Sessions[id] = info
	return info, nil
}

func (m *MockClient) SendPrompt(_ context.Context, sessionID string, prompt string) (*PromptResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PromptErr != nil {
		return nil, m.PromptErr
	}
	m.PromptHistory = append(m.PromptHistory, PromptCall{
		SessionID: sessionID,
		Prompt:    prompt,
	})
	content := m.DefaultResult
	if r, ok := m.PromptResults[sessionID]; ok {
		content = r
	}
	return &PromptResponse{Content: content}, nil
}

func (m *MockClient) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, sessionID)
	return nil
}
