package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Bridge manages WebSocket connections and pushes issue status events to
// connected clients.
type Bridge struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	nextID  int

	// listIssues supplies the current issue list for the initial push and
	// explicit refreshes.
	listIssues func() []IssueSummary
}

type wsClient struct {
	conn *websocket.Conn
	ctx  context.Context
	mu   sync.Mutex // serializes writes
}

// NewBridge creates a Bridge. listIssues may be nil until wired.
func NewBridge(listIssues func() []IssueSummary) *Bridge {
	return &Bridge{
		clients:    make(map[string]*wsClient),
		listIssues: listIssues,
	}
}

// HandleWS is the HTTP handler for the /ws endpoint.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // the feed is read-only status data
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &wsClient{conn: c, ctx: ctx}
	b.clients[id] = client
	b.mu.Unlock()

	slog.Info("websocket client connected", "id", id, "remote", r.RemoteAddr)

	b.sendIssuesList(client)
	b.readLoop(ctx, id, client)
}

func (b *Bridge) readLoop(ctx context.Context, id string, client *wsClient) {
	defer func() {
		b.mu.Lock()
		delete(b.clients, id)
		b.mu.Unlock()
		client.conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("websocket client disconnected", "id", id)
	}()

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return // client disconnected
		}

		var msg BridgeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid ws message", "error", err, "client", id)
			continue
		}

		if msg.Type == MsgGetIssues {
			b.sendIssuesList(client)
		}
	}
}

// BroadcastStatusChanged pushes one transition to every connected client.
func (b *Bridge) BroadcastStatusChanged(p StatusChangedPayload) {
	b.broadcast(MsgStatusChanged, p)
}

func (b *Bridge) sendIssuesList(client *wsClient) {
	if b.listIssues == nil {
		return
	}
	b.sendTo(client, MsgIssuesList, IssuesListPayload{Issues: b.listIssues()})
}

func (b *Bridge) broadcast(msgType string, payload any) {
	data, err := json.Marshal(BridgeMessage{
		Type:    msgType,
		Payload: mustMarshal(payload),
	})
	if err != nil {
		return
	}

	b.mu.RLock()
	clients := make([]*wsClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.Write(c.ctx, websocket.MessageText, data)
		c.mu.Unlock()
	}
}

func (b *Bridge) sendTo(client *wsClient, msgType string, payload any) {
	data, err := json.Marshal(BridgeMessage{
		Type:    msgType,
		Payload: mustMarshal(payload),
	})
	if err != nil {
		return
	}
	client.mu.Lock()
	_ = client.conn.Write(client.ctx, websocket.MessageText, data)
	client.mu.Unlock()
}

func mustMarshal(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
