package gateway

import "sync"

// presenceManager tracks per-session busy/typing state and fans out
// presence changes to connected WebSocket clients. Covers two signals:
// busy (driven by the agent loop) and typing (client-reported).
type presenceManager struct {
	broadcast func(sessionID string, event wsEvent)

	mu     sync.Mutex
	busy   map[string]bool
	typing map[string]map[string]bool // sessionID -> clientID -> active
}

func newPresenceManager(broadcast func(string, wsEvent)) *presenceManager {
	return &presenceManager{
		broadcast: broadcast,
		busy:      make(map[string]bool),
		typing:    make(map[string]map[string]bool),
	}
}

// setBusy is installed as the agent loop's presence hook: true on turn
// start, false on turn end.
func (p *presenceManager) setBusy(sessionID string, busy bool) {
	p.mu.Lock()
	p.busy[sessionID] = busy
	p.mu.Unlock()
	p.broadcast(sessionID, wsEvent{Type: "presence", SessionID: sessionID, Presence: presenceString(busy)})
}

func (p *presenceManager) isBusy(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy[sessionID]
}

func presenceString(busy bool) string {
	if busy {
		return "busy"
	}
	return "idle"
}

// setTyping records a client's typing state and broadcasts it to the rest
// of the session's clients.
func (p *presenceManager) setTyping(sessionID, clientID string, active bool) {
	p.mu.Lock()
	if p.typing[sessionID] == nil {
		p.typing[sessionID] = make(map[string]bool)
	}
	if active {
		p.typing[sessionID][clientID] = true
	} else {
		delete(p.typing[sessionID], clientID)
	}
	p.mu.Unlock()
	p.broadcast(sessionID, wsEvent{Type: "typing", SessionID: sessionID, ClientID: clientID, Active: &active})
}

// drain clears all tracked presence state, called during shutdown.
func (p *presenceManager) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = make(map[string]bool)
	p.typing = make(map[string]map[string]bool)
}
