package gateway

import (
	"net/http"
	"time"

	"github.com/haasonsaas/agentgate/internal/agentloop"
)

// openAIMessage is the subset of the OpenAI chat-completions message shape
// this shim understands.
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Stream         bool            `json:"stream"`
	SessionIDExtra string          `json:"session_id,omitempty"` // non-standard passthrough for clients that want session pinning
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

// handleOpenAIChatCompletions serves POST /v1/chat/completions: the last
// user message in the request drives one non-streaming agent turn against
// a session keyed by session_id (or a fixed shim identity when none is
// given); the full OpenAI message history is not replayed since the
// session's own log is the source of truth.
func (s *Server) handleOpenAIChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Sessions == nil || s.deps.Loop == nil {
		writeError(w, http.StatusServiceUnavailable, "agent loop unavailable")
		return
	}

	var req openAIChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	content := lastUserContent(req.Messages)
	if content == "" {
		writeError(w, http.StatusBadRequest, "no user message in request")
		return
	}

	sessionID, err := s.resolveSession(chatRequest{SessionID: req.SessionIDExtra, Channel: "openai", UserID: "shim"})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp, err := s.deps.Loop.ProcessMessage(r.Context(), agentloop.Request{
		SessionID: sessionID,
		Content:   content,
		Mode:      agentloop.ModeChatOnly,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	model := req.Model
	if model == "" && s.deps.Pool != nil {
		model = s.deps.Pool.CurrentProvider()
	}
	writeJSON(w, http.StatusOK, openAIChatResponse{
		ID:      "chatcmpl-" + sessionID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openAIChoice{{
			Index:        0,
			Message:      openAIMessage{Role: "assistant", Content: resp.Content},
			FinishReason: "stop",
		}},
		Usage: openAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	})
}

func lastUserContent(messages []openAIMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// handleOpenAIModels serves GET /v1/models: the provider pool's entries
// reported in the OpenAI models-list shape.
func (s *Server) handleOpenAIModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	type openAIModel struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	out := struct {
		Object string        `json:"object"`
		Data   []openAIModel `json:"data"`
	}{Object: "list"}

	if s.deps.Pool != nil {
		for _, e := range s.deps.Pool.Entries() {
			out.Data = append(out.Data, openAIModel{ID: e.Model, Object: "model", OwnedBy: e.Name})
		}
	}
	writeJSON(w, http.StatusOK, out)
}
