package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issuepilot/issuepilot/internal/config"
	"github.com/issuepilot/issuepilot/internal/lifecycle"
)

func TestNotify_NoWebhook(t *testing.T) {
	cfg := &config.NotificationsConfig{
		TeamsWebhookURL: "",
	}
	err := Notify(t.Context(), cfg, NotificationPayload{
		Event: EventAutoMerged,
		Issue: "acme/api#7",
	})
	assert.NoError(t, err)
}

func TestNotify_EventFiltering(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.NotificationsConfig{
		TeamsWebhookURL: srv.URL,
		Events:          []string{"rolled_back"},
	}

	err := Notify(t.Context(), cfg, NotificationPayload{
		Event: EventAutoMerged,
		Issue: "acme/api#7",
	})
	assert.NoError(t, err)
	assert.False(t, called, "webhook should not be called for filtered event")
}

func TestNotify_EventFilteringEmptyAllowed(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.NotificationsConfig{
		TeamsWebhookURL: srv.URL,
		Events:          []string{}, // Empty = allow all
	}

	err := Notify(t.Context(), cfg, NotificationPayload{
		Event: EventIssueFailed,
		Issue: "acme/api#7",
	})
	assert.NoError(t, err)
	assert.True(t, called, "webhook should be called when Events is empty (allow all)")
}

func TestNotify_SendsAdaptiveCard(t *testing.T) {
	var receivedBody []byte
	var receivedContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedContentType = r.Header.Get("Content-Type")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		receivedBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.NotificationsConfig{
		TeamsWebhookURL: srv.URL,
	}

	err := Notify(t.Context(), cfg, NotificationPayload{
		Event:  EventRolledBack,
		Issue:  "acme/api#7",
		Reason: "error rate rose from 0.0100 to 0.0500",
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", receivedContentType)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(receivedBody, &envelope))
	assert.Equal(t, "message", envelope["type"])

	attachments, ok := envelope["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)

	attachment := attachments[0].(map[string]any)
	assert.Equal(t, "application/vnd.microsoft.card.adaptive", attachment["contentType"])

	card := attachment["content"].(map[string]any)
	assert.Equal(t, "AdaptiveCard", card["type"])

	body, ok := card["body"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, body)

	header := body[0].(map[string]any)
	assert.Contains(t, header["text"], "Rolled Back")

	raw := string(receivedBody)
	assert.Contains(t, raw, "acme/api#7")
	assert.Contains(t, raw, "error rate rose")
}

func TestNotify_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad card", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := &config.NotificationsConfig{TeamsWebhookURL: srv.URL}
	err := Notify(t.Context(), cfg, NotificationPayload{Event: EventIssueFailed, Issue: "acme/api#7"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestTeamsNotifierSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewTeamsNotifier(&config.NotificationsConfig{TeamsWebhookURL: srv.URL})
	key := lifecycle.Key{Repo: "acme/api", Number: 7}

	// None of these may panic or block on webhook failures.
	n.IssueFailed(t.Context(), key, "fix generation exhausted retries")
	n.AutoMerged(t.Context(), key, 42, "squash")
	n.RolledBack(t.Context(), key, "latency regression")
}
