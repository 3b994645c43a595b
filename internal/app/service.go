package app

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"taskaify/api/internal/auth"
	"taskaify/api/internal/config"
	"taskaify/api/internal/session"
	"taskaify/api/internal/store"
	"taskaify/api/internal/suggest"
)

// Session is a request's resolved identity: the verified external
// subject mapped to its local user row.
type Session struct {
	UserID    int64
	SubjectID string
	Email     string
}

// TaskInput carries create/update fields for a task. Pointers
// distinguish omitted fields from supplied ones; ClearDueDate marks an
// explicit "dueDate": null, which clears the date rather than keeping it.
type TaskInput struct {
	Content      *string
	Category     *string
	Completed    *bool
	DueDate      *string
	ClearDueDate bool
}

// SubtaskInput carries create/update fields for a subtask.
type SubtaskInput struct {
	Content   *string
	Completed *bool
}

type dataStore interface {
	EnsureUser(ctx context.Context, subjectID, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID int64) (store.User, error)
	SetDisplayNameIfUnset(ctx context.Context, userID int64, name string) (store.User, error)
	ListTasks(ctx context.Context, userID int64, filter store.TaskFilter) ([]store.Task, error)
	InsertTask(ctx context.Context, task store.Task) (store.Task, error)
	GetTaskForUser(ctx context.Context, taskID, userID int64) (store.Task, error)
	UpdateTask(ctx context.Context, taskID, userID int64, patch store.TaskPatch) (store.Task, error)
	DeleteTask(ctx context.Context, taskID, userID int64) (bool, error)
	ListSubtasks(ctx context.Context, taskID int64) ([]store.Subtask, error)
	InsertSubtask(ctx context.Context, subtask store.Subtask) (store.Subtask, error)
	GetSubtask(ctx context.Context, subtaskID, taskID int64) (store.Subtask, error)
	UpdateSubtask(ctx context.Context, subtaskID, taskID int64, patch store.SubtaskPatch) (store.Subtask, error)
	DeleteSubtask(ctx context.Context, subtaskID, taskID int64) (bool, error)
	ListCategoryNames(ctx context.Context, userID int64) ([]string, error)
	InsertCategory(ctx context.Context, userID int64, name string) error
	ListUsedCategoryValues(ctx context.Context, userID int64) ([]string, error)
	TaskCounts(ctx context.Context, userID int64, filter store.TaskFilter) (int, int, error)
	Ping(ctx context.Context) error
}

type identityCache interface {
	SaveIdentity(ctx context.Context, tokenHash string, identity session.Identity, ttl time.Duration) error
	LookupIdentity(ctx context.Context, tokenHash string) (session.Identity, error)
}

type suggester interface {
	IsConfigured() bool
	Generate(ctx context.Context, topic string, count int) ([]string, error)
}

// defaultCategory is always offered as a usable filter value, whether
// or not the user ever registered it.
const defaultCategory = "general"

type Service struct {
	cfg     config.Config
	store   dataStore
	cache   identityCache
	suggest suggester
}

func New(cfg config.Config, dataStore *store.PostgresStore, suggestSvc *suggest.Service) *Service {
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		suggest: suggestSvc,
	}
}

func NewWithIdentityCache(cfg config.Config, dataStore *store.PostgresStore, cache *session.RedisStore, suggestSvc *suggest.Service) *Service {
	svc := New(cfg, dataStore, suggestSvc)
	svc.cache = cache
	return svc
}

// SessionFromToken verifies a bearer token and resolves it to a local
// user, creating the user row on first sight. With Redis configured the
// verified identity is cached by token hash so repeat requests skip the
// user lookup; the cache never holds task data.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	tokenHash := auth.HashToken(token)

	if s.cache != nil {
		if cached, err := s.cache.LookupIdentity(ctx, tokenHash); err == nil {
			return Session{UserID: cached.UserID, SubjectID: cached.SubjectID, Email: cached.Email}, nil
		}
	}

	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.EnsureUser(ctx, claims.Sub, claims.Email)
	if err != nil {
		return Session{}, err
	}

	if s.cache != nil {
		ttl := s.cfg.IdentityCacheTTL
		if remaining := time.Until(time.Unix(claims.Exp, 0)); remaining < ttl {
			ttl = remaining
		}
		_ = s.cache.SaveIdentity(ctx, tokenHash, session.Identity{
			SubjectID: user.SubjectID,
			Email:     user.Email,
			UserID:    user.ID,
		}, ttl)
	}

	return Session{UserID: user.ID, SubjectID: user.SubjectID, Email: user.Email}, nil
}

func (s *Service) Profile(ctx context.Context, sess Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

// SetDisplayName records the display name once; later calls succeed but
// leave the stored name unchanged.
func (s *Service) SetDisplayName(ctx context.Context, sess Session, name string) (map[string]any, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, validationError("name")
	}
	user, err := s.store.SetDisplayNameIfUnset(ctx, sess.UserID, trimmed)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) ListTasks(ctx context.Context, sess Session, filter store.TaskFilter) ([]map[string]any, error) {
	tasks, err := s.store.ListTasks(ctx, sess.UserID, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskPayload(task))
	}
	return items, nil
}

func (s *Service) CreateTask(ctx context.Context, sess Session, input TaskInput) (map[string]any, error) {
	fields := []string{}
	if input.Content == nil || !validLength(*input.Content, 1, 255) {
		fields = append(fields, "content")
	}
	if input.Category != nil && !validLength(*input.Category, 0, 50) {
		fields = append(fields, "category")
	}
	dueDate, ok := parseDueDate(input.DueDate)
	if !ok {
		fields = append(fields, "dueDate")
	}
	if len(fields) > 0 {
		return nil, validationError(fields...)
	}

	// completed always starts false, whatever the client sent
	task, err := s.store.InsertTask(ctx, store.Task{
		UserID:   sess.UserID,
		Content:  *input.Content,
		Category: input.Category,
		DueDate:  dueDate,
	})
	if err != nil {
		return nil, err
	}
	return taskPayload(task), nil
}

func (s *Service) GetTask(ctx context.Context, sess Session, taskID int64) (map[string]any, error) {
	task, err := s.authorizeTask(ctx, sess, taskID)
	if err != nil {
		return nil, err
	}
	return taskPayload(task), nil
}

func (s *Service) UpdateTask(ctx context.Context, sess Session, taskID int64, input TaskInput) (map[string]any, error) {
	fields := []string{}
	if input.Content != nil && !validLength(*input.Content, 1, 255) {
		fields = append(fields, "content")
	}
	if input.Category != nil && !validLength(*input.Category, 0, 50) {
		fields = append(fields, "category")
	}
	dueDate, ok := parseDueDate(input.DueDate)
	if !ok {
		fields = append(fields, "dueDate")
	}
	if len(fields) > 0 {
		return nil, validationError(fields...)
	}

	task, err := s.store.UpdateTask(ctx, taskID, sess.UserID, store.TaskPatch{
		Content:      input.Content,
		Category:     input.Category,
		Completed:    input.Completed,
		DueDate:      dueDate,
		ClearDueDate: input.ClearDueDate,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("task")
	}
	if err != nil {
		return nil, err
	}
	return taskPayload(task), nil
}

func (s *Service) DeleteTask(ctx context.Context, sess Session, taskID int64) error {
	deleted, err := s.store.DeleteTask(ctx, taskID, sess.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("task")
	}
	return nil
}

// authorizeTask is the ownership guard: existence and ownership checked
// as one predicate, with a single NotFound outcome for both failures.
func (s *Service) authorizeTask(ctx context.Context, sess Session, taskID int64) (store.Task, error) {
	task, err := s.store.GetTaskForUser(ctx, taskID, sess.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, notFound("task")
	}
	if err != nil {
		return store.Task{}, err
	}
	return task, nil
}

// authorizeSubtask derives subtask ownership transitively through the
// parent task; a subtask id valid for a different task is NotFound too.
func (s *Service) authorizeSubtask(ctx context.Context, sess Session, taskID, subtaskID int64) (store.Subtask, error) {
	if _, err := s.authorizeTask(ctx, sess, taskID); err != nil {
		return store.Subtask{}, err
	}
	subtask, err := s.store.GetSubtask(ctx, subtaskID, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Subtask{}, notFound("subtask")
	}
	if err != nil {
		return store.Subtask{}, err
	}
	return subtask, nil
}

func (s *Service) ListSubtasks(ctx context.Context, sess Session, taskID int64) ([]map[string]any, error) {
	if _, err := s.authorizeTask(ctx, sess, taskID); err != nil {
		return nil, err
	}
	subtasks, err := s.store.ListSubtasks(ctx, taskID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(subtasks))
	for _, subtask := range subtasks {
		items = append(items, subtaskPayload(subtask))
	}
	return items, nil
}

func (s *Service) CreateSubtask(ctx context.Context, sess Session, taskID int64, input SubtaskInput) (map[string]any, error) {
	if _, err := s.authorizeTask(ctx, sess, taskID); err != nil {
		return nil, err
	}
	if input.Content == nil || !validLength(*input.Content, 1, 255) {
		return nil, validationError("content")
	}
	completed := false
	if input.Completed != nil {
		completed = *input.Completed
	}
	subtask, err := s.store.InsertSubtask(ctx, store.Subtask{
		TaskID:    taskID,
		Content:   *input.Content,
		Completed: completed,
	})
	if err != nil {
		return nil, err
	}
	return subtaskPayload(subtask), nil
}

func (s *Service) UpdateSubtask(ctx context.Context, sess Session, taskID, subtaskID int64, input SubtaskInput) (map[string]any, error) {
	if _, err := s.authorizeSubtask(ctx, sess, taskID, subtaskID); err != nil {
		return nil, err
	}
	if input.Content != nil && !validLength(*input.Content, 1, 255) {
		return nil, validationError("content")
	}
	subtask, err := s.store.UpdateSubtask(ctx, subtaskID, taskID, store.SubtaskPatch{
		Content:   input.Content,
		Completed: input.Completed,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("subtask")
	}
	if err != nil {
		return nil, err
	}
	return subtaskPayload(subtask), nil
}

func (s *Service) DeleteSubtask(ctx context.Context, sess Session, taskID, subtaskID int64) error {
	if _, err := s.authorizeSubtask(ctx, sess, taskID, subtaskID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteSubtask(ctx, subtaskID, taskID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("subtask")
	}
	return nil
}

// ListCategoryNames returns the user's registered categories plus the
// implicit default, deduplicated and sorted.
func (s *Service) ListCategoryNames(ctx context.Context, sess Session) ([]string, error) {
	names, err := s.store.ListCategoryNames(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{defaultCategory: true}
	merged := []string{defaultCategory}
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			merged = append(merged, name)
		}
	}
	sort.Strings(merged)
	return merged, nil
}

func (s *Service) CreateCategory(ctx context.Context, sess Session, name string) error {
	if !validLength(name, 1, 50) {
		return validationError("name")
	}
	// duplicate insert is swallowed by the unique constraint
	return s.store.InsertCategory(ctx, sess.UserID, name)
}

// ListUsedCategoryValues reports categories actually present on the
// user's tasks. Kept separate from ListCategoryNames: tasks may carry
// ad-hoc category text never registered, and callers choose which view
// they need.
func (s *Service) ListUsedCategoryValues(ctx context.Context, sess Session) ([]string, error) {
	return s.store.ListUsedCategoryValues(ctx, sess.UserID)
}

func (s *Service) Progress(ctx context.Context, sess Session, filter store.TaskFilter) (map[string]any, error) {
	total, completed, err := s.store.TaskCounts(ctx, sess.UserID, filter)
	if err != nil {
		return nil, err
	}
	pct := 0
	if total > 0 {
		pct = int(math.Round(float64(completed) / float64(total) * 100))
	}
	return map[string]any{
		"total":       total,
		"completed":   completed,
		"progressPct": pct,
	}, nil
}

// SuggestTasks asks the generation backend for candidate task lines.
// Nothing is persisted; tasks null means the topic was not actionable.
func (s *Service) SuggestTasks(ctx context.Context, topic string, count int) (map[string]any, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, validationError("topic")
	}
	if s.suggest == nil || !s.suggest.IsConfigured() {
		return nil, domainError(http.StatusServiceUnavailable, "SUGGEST_UNAVAILABLE", "Task suggestion service not configured", nil)
	}
	tasks, err := s.suggest.Generate(ctx, topic, count)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		return map[string]any{"tasks": nil}, nil
	}
	return map[string]any{"tasks": tasks}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func validLength(value string, min, max int) bool {
	n := utf8.RuneCountInString(value)
	return n >= min && n <= max
}

// parseDueDate interprets an optional RFC3339 due date; the stored
// value keeps whatever precision the client supplied.
func parseDueDate(raw *string) (*time.Time, bool) {
	if raw == nil {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, false
	}
	return &parsed, true
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"subjectId":   user.SubjectID,
		"email":       user.Email,
		"displayName": user.DisplayName,
		"createdAt":   user.CreatedAt,
	}
}

func taskPayload(task store.Task) map[string]any {
	return map[string]any{
		"id":        task.ID,
		"userId":    task.UserID,
		"content":   task.Content,
		"completed": task.Completed,
		"category":  task.Category,
		"dueDate":   task.DueDate,
		"createdAt": task.CreatedAt,
		"updatedAt": task.UpdatedAt,
	}
}

func subtaskPayload(subtask store.Subtask) map[string]any {
	return map[string]any{
		"id":        subtask.ID,
		"taskId":    subtask.TaskID,
		"content":   subtask.Content,
		"completed": subtask.Completed,
		"createdAt": subtask.CreatedAt,
		"updatedAt": subtask.UpdatedAt,
	}
}
