package api

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/nugget/quill/internal/buildinfo"
	"github.com/nugget/quill/internal/usage"
)

// KeyStatus describes one credential without revealing it.
type KeyStatus struct {
	Configured  bool `json:"configured"`
	Length      int  `json:"length"`
	ValidFormat bool `json:"valid_format"`
}

// minKeyLength is the shortest value treated as a plausible key.
const minKeyLength = 10

func keyStatus(value string) KeyStatus {
	return KeyStatus{
		Configured:  value != "",
		Length:      len(value),
		ValidFormat: len(value) > minKeyLength,
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respond(w, map[string]string{
		"name":    "Quill",
		"version": buildinfo.Version,
		"status":  "ok",
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.respond(w, buildinfo.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"api": "healthy"}
	for _, c := range s.credentials {
		status[c.Name] = c.Value != ""
	}
	if s.services != nil {
		status["services"] = s.services.List()
	}
	s.respond(w, status)
}

func (s *Server) toolNames() []string {
	if s.registry == nil {
		return []string{}
	}
	return s.registry.Names()
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]any, len(s.credentials)+3)
	for _, c := range s.credentials {
		status[c.Name] = keyStatus(c.Value)
	}

	names := s.toolNames()
	pending := []string{}
	if s.registry != nil {
		if p := s.registry.Pending(); p != nil {
			pending = p
		}
	}
	status["available_tools"] = names
	status["tool_count"] = len(names)
	status["pending_remote"] = pending
	s.respond(w, status)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	type toolInfo struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Source      string `json:"source,omitempty"`
	}
	list := []toolInfo{}
	if s.registry != nil {
		for _, t := range s.registry.Snapshot() {
			list = append(list, toolInfo{Name: t.Name, Description: t.Description, Source: t.Source})
		}
	}
	resp := map[string]any{"tools": list}
	if s.registry != nil {
		resp["remote"] = s.registry.RemoteStatuses()
	}
	s.respond(w, resp)
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.respond(w, map[string]any{
		"routes": s.routes,
		"runtime": map[string]any{
			"goroutines":  runtime.NumGoroutine(),
			"heap_alloc":  mem.HeapAlloc,
			"num_gc":      mem.NumGC,
			"go_version":  runtime.Version(),
			"uptime":      buildinfo.Uptime().String(),
			"busy_convos": s.locks.Held(),
		},
		"event_subscribers": s.bus.SubscriberCount(),
		"events_dropped":    s.bus.Dropped(),
		"default_model":     s.defaultModel,
	})
}

// endpoint documents one route for front ends.
type endpoint struct {
	Path           string            `json:"path"`
	Method         string            `json:"method"`
	Description    string            `json:"description"`
	RequestFormat  map[string]string `json:"request_format,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

func (s *Server) handleFrontendEndpoints(w http.ResponseWriter, r *http.Request) {
	baseURL := "http://" + r.Host
	if r.TLS != nil {
		baseURL = "https://" + r.Host
	}

	s.respond(w, map[string]any{
		"api_version": buildinfo.Version,
		"base_url":    baseURL,
		"endpoints": []endpoint{
			{
				Path:        "/chat",
				Method:      http.MethodPost,
				Description: "Chat with the research assistant",
				RequestFormat: map[string]string{
					"conversation_id": "Optional string to continue a conversation",
					"message":         "User's message (required)",
					"model":           "Optional logical model name, e.g. 'openai' or 'anthropic'",
					"render":          "Optional; 'html' adds an HTML rendering of the reply",
				},
				ResponseFormat: map[string]string{
					"conversation_id": "String ID for the conversation",
					"messages":        "Array of message objects with role and content",
					"format_info":     "How to render message content",
				},
			},
			{
				Path:           "/conversations",
				Method:         http.MethodGet,
				Description:    "List all conversation IDs",
				ResponseFormat: map[string]string{"conversations": "Array of conversation IDs"},
			},
			{
				Path:           "/conversations/{conversation_id}",
				Method:         http.MethodGet,
				Description:    "Get a conversation transcript",
				ResponseFormat: map[string]string{"messages": "Array of message objects"},
			},
			{
				Path:           "/conversations/{conversation_id}",
				Method:         http.MethodDelete,
				Description:    "Delete a specific conversation",
				ResponseFormat: map[string]string{"message": "Success message"},
			},
			{
				Path:        "/health",
				Method:      http.MethodGet,
				Description: "Check API health status",
				ResponseFormat: map[string]string{
					"api":          "Status string",
					"key_statuses": "Boolean values for each API key",
				},
			},
			{
				Path:        "/api-status",
				Method:      http.MethodGet,
				Description: "Get detailed API configuration status",
				ResponseFormat: map[string]string{
					"api_keys":        "Status of each API key",
					"available_tools": "List of available research tools",
				},
			},
			{
				Path:        "/v1/events",
				Method:      http.MethodGet,
				Description: "WebSocket stream of operational events",
			},
		},
		"research_capabilities": []string{
			"Web search (via Tavily, Google/Serper, and Metaphor)",
			"Encyclopedia and repository search (Wikipedia, GitHub)",
			"Website content extraction",
			"E-commerce website scraping (via Apify)",
		},
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Usage tracking not enabled")
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "today"
	}
	start, end := usage.ParsePeriod(period, time.Now())

	summary, err := s.usage.Summary(start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}
	resp := map[string]any{
		"period":  period,
		"summary": summary,
	}

	if groupBy := r.URL.Query().Get("group_by"); groupBy != "" {
		if _, ok := usage.Groupings[groupBy]; !ok {
			s.errorResponse(w, http.StatusBadRequest, "group_by must be one of: "+strings.Join(usage.GroupNames(), ", "))
			return
		}
		grouped, err := s.usage.Grouped(groupBy, start, end)
		if err != nil {
			s.logger.Error("grouped usage failed", "group_by", groupBy, "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "Server error: "+err.Error())
			return
		}
		resp["by_"+groupBy] = grouped
	}

	s.respond(w, resp)
}
