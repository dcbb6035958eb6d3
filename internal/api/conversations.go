package api

import (
	"errors"
	"net/http"

	"github.com/nugget/quill/internal/conversation"
	"github.com/nugget/quill/internal/events"
)

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListIDs()
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.respond(w, map[string]any{"conversations": ids})
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns, err := s.store.Get(id)
	if errors.Is(err, conversation.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("get conversation failed", "conversation_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}
	s.respond(w, map[string]any{
		"conversation_id": id,
		"messages":        turns,
	})
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Wait for any in-flight request on this conversation so it cannot
	// write the conversation back after the delete.
	unlock := s.locks.Lock(id)
	err := s.store.Delete(id)
	unlock()

	if errors.Is(err, conversation.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("delete conversation failed", "conversation_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}

	s.bus.Emit(events.SourceAPI, events.KindConversationDeleted, map[string]any{
		"conversation_id": id,
	})
	s.respond(w, map[string]string{"message": "Conversation " + id + " deleted"})
}
