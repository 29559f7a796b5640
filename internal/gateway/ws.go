package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/agentgate/internal/agentloop"
	"github.com/haasonsaas/agentgate/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPingInterval    = 30 * time.Second
	wsReconnectPoll   = 2500 * time.Millisecond
)

// wsClientFrame is the one client->server frame shape, a superset of every
// per-type payload the protocol sends.
type wsClientFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Active    bool   `json:"active,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Index     int    `json:"index,omitempty"`
}

// wsClient is one live WebSocket connection, bound to exactly one session
// at a time, using flat type/payload frames rather than a req/res/event
// envelope.
type wsClient struct {
	server    *Server
	conn      *websocket.Conn
	id        string
	sessionID string

	writeMu sync.Mutex

	pollMu   sync.Mutex
	pollStop chan struct{}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &wsClient{
		server: s,
		conn:   conn,
		id:     uuid.NewString(),
	}
	c.sessionID = s.resolveClientSession(r)

	s.registerClient(c)
	defer s.unregisterClient(c)

	c.sendConnected()
	if s.deps.Loop != nil && s.deps.Loop.IsProcessing(c.sessionID) {
		c.pollForCompletion()
	}

	c.readLoop()
}

// resolveClientSession binds a freshly connecting client to the configured
// main session if one exists, otherwise mints its own.
func (s *Server) resolveClientSession(r *http.Request) string {
	if s.deps.Sessions != nil {
		if main := s.deps.Sessions.GetMainSessionID(); main != "" {
			return main
		}
	}
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) registerClient(c *wsClient) {
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	s.hub[c.sessionID] = append(s.hub[c.sessionID], c)
	s.metrics.wsConnections.Inc()
}

func (s *Server) unregisterClient(c *wsClient) {
	c.stopPoll()
	s.hubMu.Lock()
	clients := s.hub[c.sessionID]
	for i, other := range clients {
		if other == c {
			s.hub[c.sessionID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(s.hub[c.sessionID]) == 0 {
		delete(s.hub, c.sessionID)
	}
	s.hubMu.Unlock()
	s.metrics.wsConnections.Dec()
	c.conn.Close()
}

// broadcast sends event to every client in sessionID, or every connected
// client if sessionID is empty (used for global data_update broadcasts).
func (s *Server) broadcast(sessionID string, event wsEvent) {
	s.hubMu.Lock()
	var targets []*wsClient
	if sessionID == "" {
		for _, clients := range s.hub {
			targets = append(targets, clients...)
		}
	} else {
		targets = append(targets, s.hub[sessionID]...)
	}
	s.hubMu.Unlock()

	for _, c := range targets {
		c.send(event)
	}
}

// send is fire-and-forget with per-client error isolation: a slow or dead
// client never blocks the agent loop or other clients.
func (c *wsClient) send(event wsEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) sendConnected() {
	processing := false
	if c.server.deps.Loop != nil {
		processing = c.server.deps.Loop.IsProcessing(c.sessionID)
	}
	c.send(wsEvent{
		Type:       "connected",
		SessionID:  c.sessionID,
		ClientID:   c.id,
		Presence:   presenceString(c.server.presence.isBusy(c.sessionID)),
		Context:    c.server.contextStats(c.sessionID),
		Processing: &processing,
	})
}

func (c *wsClient) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wsClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.send(wsEvent{Type: "error", Message: "invalid frame"})
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *wsClient) handleFrame(frame wsClientFrame) {
	switch frame.Type {
	case "message":
		c.handleMessage(frame)
	case "typing":
		c.server.presence.setTyping(c.sessionID, c.id, frame.Active)
	case "ping":
		c.send(wsEvent{Type: "pong"})
	case "load_session":
		c.handleLoadSession(frame)
	case "interrupt":
		c.handleInterrupt()
	case "delete_message":
		c.handleDeleteMessage(frame)
	case "edit_message":
		c.handleEditMessage(frame)
	case "retry_message":
		c.handleRetryMessage(frame)
	default:
		c.send(wsEvent{Type: "error", Message: "unknown frame type: " + frame.Type})
	}
}

func (c *wsClient) handleMessage(frame wsClientFrame) {
	content := strings.TrimSpace(frame.Content)
	if content == "" {
		return
	}
	if !c.server.rateLimit.Allow(c.sessionID) {
		c.send(wsEvent{Type: "error", Message: "rate limit exceeded"})
		return
	}
	if reply, handled := c.server.maybeHandleCommand(c.sessionID, content); handled {
		c.send(wsEvent{Type: "response", Content: reply, Done: true, Context: c.server.contextStats(c.sessionID)})
		return
	}
	if c.server.deps.Loop == nil {
		c.send(wsEvent{Type: "error", Message: "agent loop unavailable"})
		return
	}

	req := agentloop.Request{
		SessionID: c.sessionID,
		Content:   content,
		Mode:      agentloop.ModeStreaming,
		OnStream: func(delta string) {
			c.send(wsEvent{Type: "stream", Content: delta})
		},
		OnToolCall: func(ev models.ToolEvent) {
			c.server.recordToolEvent(ev)
			c.send(wsEvent{Type: "tool_call", Name: ev.Name, Arguments: ev.Arguments, Result: ev.Result})
		},
	}

	go func() {
		resp, err := c.server.deps.Loop.ProcessMessage(context.Background(), req)
		if err != nil {
			c.send(wsEvent{Type: "error", Message: err.Error()})
			return
		}
		if resp.Interrupted {
			c.send(wsEvent{Type: "interrupted", SessionID: c.sessionID, Aborted: true})
			return
		}
		c.send(wsEvent{
			Type:      "response",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Usage:     &resp.Usage,
			Done:      true,
			Context:   c.server.contextStats(c.sessionID),
		})
	}()
}

func (c *wsClient) handleLoadSession(frame wsClientFrame) {
	if frame.SessionID == "" {
		c.send(wsEvent{Type: "error", Message: "session_id is required"})
		return
	}
	c.server.hubMu.Lock()
	clients := c.server.hub[c.sessionID]
	for i, other := range clients {
		if other == c {
			c.server.hub[c.sessionID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	c.sessionID = frame.SessionID
	c.server.hub[c.sessionID] = append(c.server.hub[c.sessionID], c)
	c.server.hubMu.Unlock()

	c.sendSessionSnapshot("session_loaded")
	if c.server.deps.Loop != nil && c.server.deps.Loop.IsProcessing(c.sessionID) {
		c.pollForCompletion()
	}
}

func (c *wsClient) sendSessionSnapshot(eventType string) {
	var messages []models.Message
	if c.server.deps.Sessions != nil {
		messages, _ = c.server.deps.Sessions.GetMessages(c.sessionID)
	}
	c.send(wsEvent{
		Type:      eventType,
		SessionID: c.sessionID,
		Messages:  messages,
		Context:   c.server.contextStats(c.sessionID),
	})
}

func (c *wsClient) handleInterrupt() {
	aborted := false
	if c.server.deps.Loop != nil {
		aborted = c.server.deps.Loop.InterruptSession(c.sessionID)
	}
	c.send(wsEvent{Type: "interrupted", SessionID: c.sessionID, Aborted: aborted})
}

func (c *wsClient) handleDeleteMessage(frame wsClientFrame) {
	if c.server.deps.Sessions == nil {
		return
	}
	if err := c.server.deps.Sessions.DeleteMessageAt(c.sessionID, frame.Index); err != nil {
		c.send(wsEvent{Type: "error", Message: err.Error()})
		return
	}
	c.server.broadcast(c.sessionID, c.messagesUpdatedEvent())
}

func (c *wsClient) handleEditMessage(frame wsClientFrame) {
	if c.server.deps.Sessions == nil {
		return
	}
	if err := c.server.deps.Sessions.EditMessageAt(c.sessionID, frame.Index, frame.Content); err != nil {
		c.send(wsEvent{Type: "error", Message: err.Error()})
		return
	}
	c.server.broadcast(c.sessionID, c.messagesUpdatedEvent())
}

// handleRetryMessage re-runs the user message at or before frame.Index: the
// retried turn (that user message and everything up to the next user
// message, or the end of the log) is truncated, the agent loop regenerates
// it, and any messages that originally came after that turn are restored
// afterward so later turns in the conversation survive the retry.
func (c *wsClient) handleRetryMessage(frame wsClientFrame) {
	if c.server.deps.Sessions == nil || c.server.deps.Loop == nil {
		return
	}
	messages, err := c.server.deps.Sessions.GetMessages(c.sessionID)
	if err != nil {
		c.send(wsEvent{Type: "error", Message: err.Error()})
		return
	}

	idx := frame.Index
	for idx >= 0 && idx < len(messages) && messages[idx].Role != models.RoleUser {
		idx--
	}
	if idx < 0 {
		c.send(wsEvent{Type: "error", Message: "no prior user message to retry"})
		return
	}
	retryContent := messages[idx].Content

	turnEnd := idx + 1
	for turnEnd < len(messages) && messages[turnEnd].Role != models.RoleUser {
		turnEnd++
	}
	trailing := make([]models.Message, len(messages[turnEnd:]))
	copy(trailing, messages[turnEnd:])

	for i := len(messages) - 1; i >= idx; i-- {
		if err := c.server.deps.Sessions.DeleteMessageAt(c.sessionID, i); err != nil {
			c.send(wsEvent{Type: "error", Message: err.Error()})
			return
		}
	}

	if _, err := c.server.deps.Loop.ProcessMessage(context.Background(), agentloop.Request{
		SessionID: c.sessionID,
		Content:   retryContent,
		Mode:      agentloop.ModeNonStreaming,
	}); err != nil {
		c.send(wsEvent{Type: "error", Message: err.Error()})
		return
	}

	for _, m := range trailing {
		m.CreatedAt = time.Time{}
		if err := c.server.deps.Sessions.AddMessage(c.sessionID, m); err != nil {
			c.send(wsEvent{Type: "error", Message: err.Error()})
			return
		}
	}

	c.server.broadcast(c.sessionID, c.retryCompleteEvent())
}

func (c *wsClient) messagesUpdatedEvent() wsEvent {
	var messages []models.Message
	if c.server.deps.Sessions != nil {
		messages, _ = c.server.deps.Sessions.GetMessages(c.sessionID)
	}
	return wsEvent{Type: "messages_updated", SessionID: c.sessionID, Messages: messages, Context: c.server.contextStats(c.sessionID)}
}

func (c *wsClient) retryCompleteEvent() wsEvent {
	var messages []models.Message
	if c.server.deps.Sessions != nil {
		messages, _ = c.server.deps.Sessions.GetMessages(c.sessionID)
	}
	return wsEvent{Type: "retry_complete", SessionID: c.sessionID, Messages: messages, Context: c.server.contextStats(c.sessionID)}
}

// pollForCompletion recovers a reconnecting client from a mid-stream
// disconnect: poll every 2.5s until the session is no longer processing,
// then replay it.
func (c *wsClient) pollForCompletion() {
	c.pollMu.Lock()
	if c.pollStop != nil {
		c.pollMu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.pollStop = stop
	c.pollMu.Unlock()

	go func() {
		ticker := time.NewTicker(wsReconnectPoll)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if c.server.deps.Loop == nil || !c.server.deps.Loop.IsProcessing(c.sessionID) {
					c.sendSessionSnapshot("session_loaded")
					c.stopPoll()
					return
				}
			}
		}
	}()
}

func (c *wsClient) stopPoll() {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
}
