package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nugget/quill/internal/agent"
	"github.com/nugget/quill/internal/config"
	"github.com/nugget/quill/internal/conversation"
	"github.com/nugget/quill/internal/gateway"
	"github.com/nugget/quill/internal/prompts"
	"github.com/nugget/quill/internal/render"
)

// ChatRequest is the body of POST /chat. Message may be a string or a
// list of content blocks.
type ChatRequest struct {
	ConversationID string               `json:"conversation_id,omitempty"`
	Message        conversation.Content `json:"message"`
	Model          string               `json:"model,omitempty"`
	// Render "html" adds an HTML rendering of the final reply.
	Render string `json:"render,omitempty"`
}

// ChatResponse is the body returned by POST /chat. Error is set when
// the request failed after the user turn was stored; the status code
// is still 200 so front ends can show the apology turn.
type ChatResponse struct {
	ConversationID string              `json:"conversation_id"`
	Messages       []conversation.Turn `json:"messages"`
	FormatInfo     render.FormatInfo   `json:"format_info"`
	Iterations     int                 `json:"iterations"`
	FinishReason   agent.FinishReason  `json:"finish_reason,omitempty"`
	Model          string              `json:"model,omitempty"`
	Usage          gateway.Usage       `json:"usage"`
	HTML           string              `json:"html,omitempty"`
	Error          string              `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.logger.Enabled(r.Context(), config.LevelTrace) {
		if body, err := captureBody(r); err == nil {
			s.logger.Log(r.Context(), config.LevelTrace, "chat request body", "body", string(body))
		}
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if messageMissing(req.Message) {
		s.errorResponse(w, http.StatusBadRequest, "Message is required")
		return
	}
	if req.Model == "" {
		req.Model = s.defaultModel
	}

	// Remote tool discoveries that finished since the last request join
	// the registry before this request binds a model.
	if s.registry != nil {
		if n := s.registry.Integrate(); n > 0 {
			s.logger.Debug("integrated remote tool discoveries", "count", n)
		}
	}

	convID, history, unlock, err := s.openConversation(req.ConversationID)
	if err != nil {
		s.logger.Error("open conversation failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}
	defer unlock()

	turns := append(history, conversation.UserTurn(req.Message))

	res, runErr := s.runner.Run(r.Context(), agent.Request{
		ConversationID: convID,
		Model:          req.Model,
		Turns:          turns,
		Source:         "api",
		RequestID:      r.Header.Get(requestIDHeader),
	})
	s.markRequest()

	resp := ChatResponse{
		ConversationID: convID,
		FormatInfo:     render.Markdown(),
	}
	if res != nil {
		if res.RequestID != "" {
			w.Header().Set(requestIDHeader, res.RequestID)
		}
		turns = res.Turns
		resp.Iterations = res.Iterations
		resp.FinishReason = res.FinishReason
		resp.Model = res.Model
		resp.Usage = res.Usage
		if s.observer != nil {
			s.observer.OnResearch(res)
		}
	}

	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		// The caller went away. Keep what the loop produced so far
		// without telling them about it.
		s.logger.Info("research request canceled", "conversation_id", convID, "turns", len(turns))
		resp.Error = runErr.Error()
	default:
		s.logger.Error("research request failed", "conversation_id", convID, "error", runErr)
		turns = append(turns, conversation.AssistantTurn(prompts.Apology(runErr)))
		resp.Error = runErr.Error()
	}

	if err := s.store.Put(convID, turns); err != nil {
		s.logger.Error("save conversation failed", "conversation_id", convID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}
	resp.Messages = turns

	if req.Render == "html" {
		html, err := render.HTML(lastAssistantText(turns))
		if err != nil {
			s.logger.Warn("render reply failed", "error", err)
		}
		resp.HTML = html
	}

	s.respond(w, resp)
}

// openConversation locks and loads the conversation named by id. An
// empty or unknown id starts a new conversation under a fresh id.
func (s *Server) openConversation(id string) (string, []conversation.Turn, func(), error) {
	if id != "" {
		unlock := s.locks.Lock(id)
		history, err := s.store.Get(id)
		if err == nil {
			return id, history, unlock, nil
		}
		unlock()
		if !errors.Is(err, conversation.ErrNotFound) {
			return "", nil, nil, err
		}
		s.logger.Debug("unknown conversation, starting a new one", "requested_id", id)
	}

	newID, err := s.store.NewID()
	if err != nil {
		return "", nil, nil, err
	}
	return newID, nil, s.locks.Lock(newID), nil
}

func lastAssistantText(turns []conversation.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == conversation.RoleAssistant {
			return turns[i].Content.Text()
		}
	}
	return ""
}

// messageMissing reports whether a chat message carries nothing to
// answer: an absent or empty string, or an empty block list.
func messageMissing(m conversation.Content) bool {
	if m.IsStructured() {
		return len(m.BlockList()) == 0
	}
	return m.Text() == ""
}
