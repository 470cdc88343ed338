package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/issuepilot/issuepilot/internal/config"
	"github.com/issuepilot/issuepilot/internal/lifecycle"
)

// notifyHTTPClient is a dedicated HTTP client for notifications,
// isolated from http.DefaultClient to avoid global state mutation.
var notifyHTTPClient = &http.Client{Timeout: 15 * time.Second}

// NotificationEvent represents the type of event that triggers a notification.
type NotificationEvent string

const (
	EventIssueFailed NotificationEvent = "issue_failed"
	EventAutoMerged  NotificationEvent = "auto_merged"
	EventRolledBack  NotificationEvent = "rolled_back"
)

// NotificationPayload carries details about a notification event.
type NotificationPayload struct {
	Event  NotificationEvent
	Issue  string            // "owner/repo#number"
	Reason string            // failure or rollback reason
	Extra  map[string]string // additional context
}

// Notify sends a notification to the configured Teams webhook. Returns nil
// immediately if no webhook is configured or if the event is filtered out.
func Notify(ctx context.Context, cfg *config.NotificationsConfig, payload NotificationPayload) error {
	if cfg.TeamsWebhookURL == "" {
		return nil
	}

	// Event filtering: if Events is non-empty, only notify for listed events.
	if len(cfg.Events) > 0 {
		allowed := false
		for _, e := range cfg.Events {
			if e == string(payload.Event) {
				allowed = true
				break
			}
		}
		if !allowed {
			slog.Debug("notification event filtered out", "event", string(payload.Event))
			return nil
		}
	}

	card := buildAdaptiveCard(payload)

	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshaling notification payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.TeamsWebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("sending notification", "event", string(payload.Event), "issue", payload.Issue)

	resp, err := notifyHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()

	// Drain the body so the connection can be reused.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	slog.Debug("notification sent successfully", "event", string(payload.Event))
	return nil
}

// buildAdaptiveCard constructs an Adaptive Card wrapped in the Power Automate envelope.
func buildAdaptiveCard(payload NotificationPayload) map[string]any {
	headerText := string(payload.Event)
	switch payload.Event {
	case EventIssueFailed:
		headerText = "❌ Issue Failed"
	case EventAutoMerged:
		headerText = "✅ Auto-Merged"
	case EventRolledBack:
		headerText = "⏪ Rolled Back"
	}

	facts := []map[string]any{}
	if payload.Issue != "" {
		facts = append(facts, map[string]any{"title": "Issue", "value": payload.Issue})
	}
	for k, v := range payload.Extra {
		facts = append(facts, map[string]any{"title": k, "value": v})
	}

	cardBody := []map[string]any{
		{
			"type":   "TextBlock",
			"size":   "Medium",
			"weight": "Bolder",
			"text":   headerText,
		},
	}

	if len(facts) > 0 {
		cardBody = append(cardBody, map[string]any{
			"type":  "FactSet",
			"facts": facts,
		})
	}

	if payload.Reason != "" {
		cardBody = append(cardBody, map[string]any{
			"type":   "TextBlock",
			"text":   fmt.Sprintf("⚠️ %s", payload.Reason),
			"color":  "Attention",
			"wrap":   true,
			"weight": "Bolder",
		})
	}

	card := map[string]any{
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"type":    "AdaptiveCard",
		"version": "1.4",
		"body":    cardBody,
	}

	// Wrap in Power Automate envelope.
	return map[string]any{
		"type": "message",
		"attachments": []map[string]any{
			{
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content":     card,
			},
		},
	}
}

// TeamsNotifier adapts the webhook sender to the orchestrator's notifier
// hook. Delivery failures are logged, never propagated.
type TeamsNotifier struct {
	cfg *config.NotificationsConfig
}

// NewTeamsNotifier creates a TeamsNotifier for the given settings.
func NewTeamsNotifier(cfg *config.NotificationsConfig) *TeamsNotifier {
	return &TeamsNotifier{cfg: cfg}
}

func (n *TeamsNotifier) IssueFailed(ctx context.Context, key lifecycle.Key, reason string) {
	n.send(ctx, NotificationPayload{Event: EventIssueFailed, Issue: key.String(), Reason: reason})
}

func (n *TeamsNotifier) AutoMerged(ctx context.Context, key lifecycle.Key, changeRequest int, strategy string) {
	n.send(ctx, NotificationPayload{
		Event: EventAutoMerged,
		Issue: key.String(),
		Extra: map[string]string{
			"Change Request": fmt.Sprintf("#%d", changeRequest),
			"Strategy":       strategy,
		},
	})
}

func (n *TeamsNotifier) RolledBack(ctx context.Context, key lifecycle.Key, reason string) {
	n.send(ctx, NotificationPayload{Event: EventRolledBack, Issue: key.String(), Reason: reason})
}

func (n *TeamsNotifier) send(ctx context.Context, payload NotificationPayload) {
	if err := Notify(ctx, n.cfg, payload); err != nil {
		slog.Warn("notification failed", "event", string(payload.Event), "error", err)
	}
}
