package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/telnet2/mcpchat/internal/mcp"
)

// handleHealth reports liveness and a per-state server count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]int)
	for _, st := range s.supervisor.Statuses() {
		states[string(st.State)]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"servers": states,
	})
}

// handleServers lists every configured server with its connection status.
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": s.supervisor.Statuses(),
	})
}

// handleTools lists the flattened tool catalog across all ready servers.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := s.dispatcher.ListAvailableTools()
	if tools == nil {
		tools = []mcp.Tool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": tools,
		"count": len(tools),
	})
}

// handleInvocations returns the newest invocation records, newest first.
// ?limit= bounds the result; the default is 50.
func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records := s.dispatcher.Records(limit)
	if records == nil {
		records = []mcp.InvocationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invocations": records,
	})
}

func (s *Server) handleInvocationSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Summary())
}

// handleRefreshServer reconnects a Disconnected or Failed server, or
// re-runs tool discovery on a Ready one.
func (s *Server) handleRefreshServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	state, err := s.supervisor.State(name)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}

	switch state {
	case mcp.StateReady:
		err = s.supervisor.RefreshTools(r.Context(), name)
	default:
		if err = s.supervisor.Connect(r.Context(), name); err == nil {
			err = s.supervisor.RefreshTools(r.Context(), name)
		}
	}
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, mcp.ErrServerDisabled) {
			status = http.StatusConflict
		}
		writeError(w, status, ErrCodeUnavailable, err.Error())
		return
	}

	state, _ = s.supervisor.State(name)
	writeJSON(w, http.StatusOK, map[string]any{
		"name":  name,
		"state": state,
	})
}
