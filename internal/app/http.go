package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskaify/api/internal/auth"
	"taskaify/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Everything below requires a verified bearer identity.
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.URL.Path == "/api/tasks" {
		switch r.Method {
		case http.MethodGet:
			filter, err := taskFilterFromQuery(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			items, err := s.service.ListTasks(r.Context(), sess, filter)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
		case http.MethodPost:
			input, ok := s.decodeTaskInput(w, r)
			if !ok {
				return
			}
			payload, err := s.service.CreateTask(r.Context(), sess, input)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/progress" {
		filter, err := taskFilterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		payload, err := s.service.Progress(r.Context(), sess, filter)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/categories" {
		switch r.Method {
		case http.MethodGet:
			names, err := s.service.ListCategoryNames(r.Context(), sess)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, names)
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.CreateCategory(r.Context(), sess, body.Name); err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"success": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/categories/used" {
		values, err := s.service.ListUsedCategoryValues(r.Context(), sess)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, values)
		return
	}

	if r.URL.Path == "/api/users/me" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.Profile(r.Context(), sess)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": payload})
		case http.MethodPut:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.SetDisplayName(r.Context(), sess, body.Name)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": payload})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/suggestions" {
		var body struct {
			Topic string `json:"topic"`
			Count int    `json:"count"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SuggestTasks(r.Context(), body.Topic, body.Count)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "tasks" {
		taskID, ok := parseID(parts[2])
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.handleTask(w, r, sess, taskID)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "tasks" && parts[3] == "subtasks" {
		taskID, ok := parseID(parts[2])
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.handleSubtasks(w, r, sess, taskID)
		return
	}

	if len(parts) == 5 && parts[0] == "api" && parts[1] == "tasks" && parts[3] == "subtasks" {
		taskID, okTask := parseID(parts[2])
		subtaskID, okSub := parseID(parts[4])
		if !okTask || !okSub {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.handleSubtask(w, r, sess, taskID, subtaskID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTask(w http.ResponseWriter, r *http.Request, sess Session, taskID int64) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetTask(r.Context(), sess, taskID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPut:
		input, ok := s.decodeTaskInput(w, r)
		if !ok {
			return
		}
		payload, err := s.service.UpdateTask(r.Context(), sess, taskID, input)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteTask(r.Context(), sess, taskID); err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSubtasks(w http.ResponseWriter, r *http.Request, sess Session, taskID int64) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListSubtasks(r.Context(), sess, taskID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost:
		input, ok := s.decodeSubtaskInput(w, r)
		if !ok {
			return
		}
		payload, err := s.service.CreateSubtask(r.Context(), sess, taskID, input)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSubtask(w http.ResponseWriter, r *http.Request, sess Session, taskID, subtaskID int64) {
	switch r.Method {
	case http.MethodPut:
		input, ok := s.decodeSubtaskInput(w, r)
		if !ok {
			return
		}
		payload, err := s.service.UpdateSubtask(r.Context(), sess, taskID, subtaskID, input)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteSubtask(r.Context(), sess, taskID, subtaskID); err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// decodeTaskInput reads a task body, keeping the omitted / null / value
// distinction for dueDate.
func (s *HTTPServer) decodeTaskInput(w http.ResponseWriter, r *http.Request) (TaskInput, bool) {
	var body struct {
		Content   *string         `json:"content"`
		Category  *string         `json:"category"`
		Completed *bool           `json:"completed"`
		DueDate   json.RawMessage `json:"dueDate"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return TaskInput{}, false
	}

	input := TaskInput{
		Content:   body.Content,
		Category:  body.Category,
		Completed: body.Completed,
	}
	if len(body.DueDate) > 0 {
		if string(body.DueDate) == "null" {
			input.ClearDueDate = true
		} else {
			var raw string
			if err := json.Unmarshal(body.DueDate, &raw); err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid payload", map[string]any{"fields": []string{"dueDate"}})
				return TaskInput{}, false
			}
			input.DueDate = &raw
		}
	}
	return input, true
}

func (s *HTTPServer) decodeSubtaskInput(w http.ResponseWriter, r *http.Request) (SubtaskInput, bool) {
	var body struct {
		Content   *string `json:"content"`
		Completed *bool   `json:"completed"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return SubtaskInput{}, false
	}
	return SubtaskInput{Content: body.Content, Completed: body.Completed}, true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("identity resolution failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
}

// respondError maps a service error onto the wire; anything that is not
// a typed outcome is logged and reported opaquely.
func (s *HTTPServer) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// parseID accepts positive integer ids only; anything else reads as a
// resource that does not exist.
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// taskFilterFromQuery reads the optional completed/category query
// params shared by task listing and progress.
func taskFilterFromQuery(r *http.Request) (store.TaskFilter, error) {
	filter := store.TaskFilter{}
	query := r.URL.Query()
	if query.Has("completed") {
		completed, err := strconv.ParseBool(query.Get("completed"))
		if err != nil {
			return store.TaskFilter{}, fmt.Errorf("completed must be a boolean")
		}
		filter.Completed = &completed
	}
	if query.Has("category") {
		category := query.Get("category")
		filter.Category = &category
	}
	if search := strings.TrimSpace(query.Get("q")); search != "" {
		filter.Search = &search
	}
	return filter, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
