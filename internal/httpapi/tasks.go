package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"taskdeck/internal/auth"
	"taskdeck/internal/logx"
	"taskdeck/internal/store"
	"taskdeck/internal/tools"
)

type taskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// validate trims the title and enforces the length limits shared with
// the tool registry.
func (t *taskRequest) validate() string {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return "title must not be empty"
	}
	if len(t.Title) > tools.MaxTitleLength {
		return "title exceeds maximum length of " + strconv.Itoa(tools.MaxTitleLength) + " characters"
	}
	return ""
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing token")
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body must be valid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", msg)
		return
	}

	task, err := s.store.CreateTask(r.Context(), claims.UserID, req.Title, req.Description)
	if err != nil {
		s.storeError(w, "create_task", err)
		return
	}
	writeData(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing token")
		return
	}

	var completed *bool
	if raw := r.URL.Query().Get("completed"); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "completed must be true or false")
			return
		}
		completed = &val
	}

	list, err := s.store.ListTasks(r.Context(), claims.UserID, completed)
	if err != nil {
		s.storeError(w, "list_tasks", err)
		return
	}
	if list == nil {
		list = []store.Task{}
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := s.taskParams(w, r)
	if !ok {
		return
	}

	task, err := s.store.Task(r.Context(), claims.UserID, id)
	if err != nil {
		s.storeError(w, "get_task", err)
		return
	}
	writeData(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := s.taskParams(w, r)
	if !ok {
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body must be valid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", msg)
		return
	}

	task, err := s.store.UpdateTask(r.Context(), claims.UserID, id, req.Title, req.Description)
	if err != nil {
		s.storeError(w, "update_task", err)
		return
	}
	writeData(w, http.StatusOK, task)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := s.taskParams(w, r)
	if !ok {
		return
	}

	task, err := s.store.ToggleTask(r.Context(), claims.UserID, id)
	if err != nil {
		s.storeError(w, "complete_task", err)
		return
	}
	writeData(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := s.taskParams(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteTask(r.Context(), claims.UserID, id); err != nil {
		s.storeError(w, "delete_task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// taskParams extracts the claims and the path task id, writing the
// error response itself when either is missing.
func (s *Server) taskParams(w http.ResponseWriter, r *http.Request) (*auth.Claims, int64, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing token")
		return nil, 0, false
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "task id must be a positive integer")
		return nil, 0, false
	}
	return claims, id, true
}

// storeError maps storage failures: a missing (or foreign) row is 404,
// anything else means the database is unhealthy.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Task not found")
		return
	}
	logx.Event("error", op+"_failed", logx.Fields{"error": err.Error()})
	writeError(w, http.StatusServiceUnavailable, "DATABASE_ERROR", "Database temporarily unavailable")
}
