package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"github.com/xyl2024/Mini-Agent-Web/agentloop"
	"github.com/xyl2024/Mini-Agent-Web/store"
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	SessionID string             `json:"session_id"`
	State     agentloop.RunState `json:"state"`
	Content   string             `json:"content"`
	Steps     int                `json:"steps"`
}

type sessionView struct {
	ID           string    `json:"id"`
	WorkspaceDir string    `json:"workspace_dir,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Active       bool      `json:"active"`
	Busy         bool      `json:"busy"`
	MessageCount int       `json:"message_count"`
}

type historyResponse struct {
	SessionID string               `json:"session_id"`
	Messages  []unifiedllm.Message `json:"messages"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.manager.Create()
	if err != nil {
		s.logger.Error("failed to create session", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	agent, err := s.manager.Get(id)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	sess, err := s.store.CreateSession(r.Context(), id, agent.Config().WorkspaceDir)
	if err != nil {
		s.logger.Error("failed to persist session", "session_id", id, "error", err)
		_ = s.manager.Remove(id)
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONResponse(w, http.StatusCreated, sessionView{
		ID:           sess.ID,
		WorkspaceDir: sess.WorkspaceDir,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
		Active:       true,
		MessageCount: len(agent.History()),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	active := lo.SliceToMap(s.manager.Sessions(), func(info agentloop.SessionInfo) (string, agentloop.SessionInfo) {
		return info.ID, info
	})

	views := lo.Map(stored, func(sess store.Session, _ int) sessionView {
		info, ok := active[sess.ID]
		return sessionView{
			ID:           sess.ID,
			WorkspaceDir: sess.WorkspaceDir,
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
			Active:       ok,
			Busy:         info.Busy,
			MessageCount: info.MessageCount,
		}
	})
	writeJSONResponse(w, http.StatusOK, views)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeErrorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	if _, err := s.ensureSession(r.Context(), id); err != nil {
		s.writeSessionError(w, id, err)
		return
	}

	s.logger.Info("chat request", "session_id", id)
	result, err := s.manager.Chat(r.Context(), id, req.Message)
	if err != nil {
		s.writeSessionError(w, id, err)
		return
	}

	if agent, err := s.manager.Get(id); err == nil {
		if err := s.store.SaveHistory(context.WithoutCancel(r.Context()), id, agent.History()); err != nil {
			s.logger.Error("failed to save history", "session_id", id, "error", err)
		}
	}

	writeJSONResponse(w, http.StatusOK, chatResponse{
		SessionID: id,
		State:     result.State,
		Content:   result.Content,
		Steps:     result.Steps,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.Cancel(id); err != nil {
		s.writeSessionError(w, id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"session_id": id, "status": "cancel_requested"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var msgs []unifiedllm.Message
	if agent, err := s.manager.Get(id); err == nil {
		msgs = agent.History()
	} else {
		stored, err := s.store.LoadHistory(r.Context(), id)
		if err != nil {
			s.writeSessionError(w, id, err)
			return
		}
		msgs = stored
	}

	writeJSONResponse(w, http.StatusOK, historyResponse{SessionID: id, Messages: msgs})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	removedActive := s.manager.Remove(id) == nil
	err := s.store.DeleteSession(r.Context(), id)
	switch {
	case err == nil || (errors.Is(err, store.ErrSessionNotFound) && removedActive):
		s.logger.Info("session deleted", "session_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeSessionError(w, id, err)
	}
}

// ensureSession returns the live agent for id, restoring it from the store
// when the manager no longer holds it.
func (s *Server) ensureSession(ctx context.Context, id string) (*agentloop.Agent, error) {
	if agent, err := s.manager.Get(id); err == nil {
		return agent, nil
	}

	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()
	if agent, err := s.manager.Get(id); err == nil {
		return agent, nil
	}

	if _, err := s.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.store.LoadHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	agent, err := s.manager.GetOrCreate(id)
	if err != nil {
		return nil, err
	}
	agent.RestoreHistory(history)
	s.logger.Info("session restored", "session_id", id, "messages", len(history))
	return agent, nil
}

func (s *Server) writeSessionError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, agentloop.ErrSessionNotFound), errors.Is(err, store.ErrSessionNotFound):
		writeErrorResponse(w, http.StatusNotFound, "session not found: "+id)
	case errors.Is(err, agentloop.ErrSessionBusy):
		writeErrorResponse(w, http.StatusConflict, "session is busy: "+id)
	default:
		s.logger.Error("session request failed", "session_id", id, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
