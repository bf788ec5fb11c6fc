package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/tabflow/pkg/schema"
)

// Notifier pushes execution events to MCP clients as logging
// notifications. It satisfies streaming.Notifier.
type Notifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

func NewNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *Notifier {
	return &Notifier{mcpServer: mcpServer, sessions: sessions}
}

// Publish is best-effort: sessions without a connected client are skipped.
func (n *Notifier) Publish(_ context.Context, sessionID string, event schema.Event) error {
	clientID, ok := n.sessions.ClientFor(sessionID)
	if !ok {
		return nil
	}
	data, err := eventData(event)
	if err != nil {
		return err
	}
	level := "info"
	if event.Type == schema.EventError {
		level = "error"
	}
	err = n.mcpServer.SendNotificationToSpecificClient(clientID, "notifications/message", map[string]any{
		"level":  level,
		"logger": "tabflow",
		"data":   data,
	})
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.RemoveClient(clientID)
		return nil
	}
	return err
}

func eventData(event schema.Event) (map[string]any, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
