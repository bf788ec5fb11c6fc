package mcp

import "sync"

// SessionRegistry maps browser session ids to the MCP client session that
// last used them.
type SessionRegistry struct {
	mu      sync.RWMutex
	clients map[string]string // browser session id -> MCP session id
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{clients: make(map[string]string)}
}

// Register binds a browser session to a client, replacing any earlier one.
func (r *SessionRegistry) Register(sessionID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[sessionID] = clientID
}

// ClientFor returns the client bound to a browser session.
func (r *SessionRegistry) ClientFor(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.clients[sessionID]
	return id, ok
}

// Forget drops the binding of a closed browser session.
func (r *SessionRegistry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, sessionID)
}

// RemoveClient drops every binding of a disconnected client.
func (r *SessionRegistry) RemoveClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, cid := range r.clients {
		if cid == clientID {
			delete(r.clients, sid)
		}
	}
}
