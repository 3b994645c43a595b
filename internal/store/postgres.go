package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const userColumns = `id, subject_id, email, display_name, created_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.SubjectID, &user.Email, &user.DisplayName, &user.CreatedAt)
	return user, err
}

// EnsureUser resolves a verified identity to a user row, creating one on
// first sight. Concurrent first requests race on the subject_id unique
// constraint: the loser's insert is a no-op and the follow-up select
// returns the winner's row. The stored email is never overwritten.
func (s *PostgresStore) EnsureUser(ctx context.Context, subjectID, email string) (User, error) {
	findUser := `SELECT ` + userColumns + ` FROM users WHERE subject_id = $1`
	user, err := scanUser(s.db.QueryRowContext(ctx, findUser, subjectID))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (subject_id, email)
		VALUES ($1, $2)
		ON CONFLICT (subject_id) DO NOTHING
		RETURNING ` + userColumns
	user, err = scanUser(s.db.QueryRowContext(ctx, insertUser, subjectID, email))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	// Someone else created the row between our select and insert.
	user, err = scanUser(s.db.QueryRowContext(ctx, findUser, subjectID))
	if err != nil {
		return User{}, fmt.Errorf("refetch user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// SetDisplayNameIfUnset writes the display name only when none is set
// yet, then returns the current row either way.
func (s *PostgresStore) SetDisplayNameIfUnset(ctx context.Context, userID int64, name string) (User, error) {
	update := `
		UPDATE users SET display_name = $2
		WHERE id = $1 AND display_name IS NULL
		RETURNING ` + userColumns
	user, err := scanUser(s.db.QueryRowContext(ctx, update, userID, name))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("set display name: %w", err)
	}
	return s.GetUserByID(ctx, userID)
}

const taskColumns = `id, user_id, content, completed, category, due_date, created_at, updated_at`

func scanTask(scanner interface{ Scan(...any) error }) (Task, error) {
	var task Task
	err := scanner.Scan(&task.ID, &task.UserID, &task.Content, &task.Completed, &task.Category, &task.DueDate, &task.CreatedAt, &task.UpdatedAt)
	return task, err
}

// taskFilterClause appends AND conditions for the optional completed,
// category, and search filters, numbering placeholders after the
// existing args.
func taskFilterClause(filter TaskFilter, args []any) (string, []any) {
	var clause strings.Builder
	if filter.Completed != nil {
		args = append(args, *filter.Completed)
		clause.WriteString(" AND completed = $" + strconv.Itoa(len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		clause.WriteString(" AND category = $" + strconv.Itoa(len(args)))
	}
	if filter.Search != nil {
		// task content is short free text; ILIKE substring match beats
		// tsquery stemming here
		args = append(args, "%"+escapeLike(*filter.Search)+"%")
		clause.WriteString(" AND content ILIKE $" + strconv.Itoa(len(args)))
	}
	return clause.String(), args
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func (s *PostgresStore) ListTasks(ctx context.Context, userID int64, filter TaskFilter) ([]Task, error) {
	args := []any{userID}
	clause, args := taskFilterClause(filter, args)
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1` + clause + ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, task)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) (Task, error) {
	query := `
		INSERT INTO tasks (user_id, content, completed, category, due_date)
		VALUES ($1, $2, FALSE, $3, $4)
		RETURNING ` + taskColumns
	created, err := scanTask(s.db.QueryRowContext(ctx, query, task.UserID, task.Content, task.Category, task.DueDate))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return created, nil
}

// GetTaskForUser checks existence and ownership as one predicate; a task
// owned by someone else scans as sql.ErrNoRows, same as an absent one.
func (s *PostgresStore) GetTaskForUser(ctx context.Context, taskID, userID int64) (Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND user_id = $2`
	return scanTask(s.db.QueryRowContext(ctx, query, taskID, userID))
}

func (s *PostgresStore) UpdateTask(ctx context.Context, taskID, userID int64, patch TaskPatch) (Task, error) {
	set := []string{"updated_at = NOW()"}
	args := []any{taskID, userID}
	if patch.Content != nil {
		args = append(args, *patch.Content)
		set = append(set, "content = $"+strconv.Itoa(len(args)))
	}
	if patch.Category != nil {
		args = append(args, *patch.Category)
		set = append(set, "category = $"+strconv.Itoa(len(args)))
	}
	if patch.Completed != nil {
		args = append(args, *patch.Completed)
		set = append(set, "completed = $"+strconv.Itoa(len(args)))
	}
	if patch.ClearDueDate {
		set = append(set, "due_date = NULL")
	} else if patch.DueDate != nil {
		args = append(args, *patch.DueDate)
		set = append(set, "due_date = $"+strconv.Itoa(len(args)))
	}

	query := `UPDATE tasks SET ` + strings.Join(set, ", ") + ` WHERE id = $1 AND user_id = $2 RETURNING ` + taskColumns
	return scanTask(s.db.QueryRowContext(ctx, query, args...))
}

// DeleteTask removes the task; subtasks go with it via the ON DELETE
// CASCADE foreign key, so the whole removal is one statement.
func (s *PostgresStore) DeleteTask(ctx context.Context, taskID, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, taskID, userID)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete task rows: %w", err)
	}
	return affected > 0, nil
}

const subtaskColumns = `id, task_id, content, completed, created_at, updated_at`

func scanSubtask(scanner interface{ Scan(...any) error }) (Subtask, error) {
	var subtask Subtask
	err := scanner.Scan(&subtask.ID, &subtask.TaskID, &subtask.Content, &subtask.Completed, &subtask.CreatedAt, &subtask.UpdatedAt)
	return subtask, err
}

func (s *PostgresStore) ListSubtasks(ctx context.Context, taskID int64) ([]Subtask, error) {
	query := `SELECT ` + subtaskColumns + ` FROM subtasks WHERE task_id = $1 ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	items := make([]Subtask, 0)
	for rows.Next() {
		subtask, err := scanSubtask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		items = append(items, subtask)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertSubtask(ctx context.Context, subtask Subtask) (Subtask, error) {
	query := `
		INSERT INTO subtasks (task_id, content, completed)
		VALUES ($1, $2, $3)
		RETURNING ` + subtaskColumns
	created, err := scanSubtask(s.db.QueryRowContext(ctx, query, subtask.TaskID, subtask.Content, subtask.Completed))
	if err != nil {
		return Subtask{}, fmt.Errorf("insert subtask: %w", err)
	}
	return created, nil
}

// GetSubtask scopes the lookup to a parent task; a subtask id that
// belongs to another task scans as sql.ErrNoRows.
func (s *PostgresStore) GetSubtask(ctx context.Context, subtaskID, taskID int64) (Subtask, error) {
	query := `SELECT ` + subtaskColumns + ` FROM subtasks WHERE id = $1 AND task_id = $2`
	return scanSubtask(s.db.QueryRowContext(ctx, query, subtaskID, taskID))
}

func (s *PostgresStore) UpdateSubtask(ctx context.Context, subtaskID, taskID int64, patch SubtaskPatch) (Subtask, error) {
	set := []string{"updated_at = NOW()"}
	args := []any{subtaskID, taskID}
	if patch.Content != nil {
		args = append(args, *patch.Content)
		set = append(set, "content = $"+strconv.Itoa(len(args)))
	}
	if patch.Completed != nil {
		args = append(args, *patch.Completed)
		set = append(set, "completed = $"+strconv.Itoa(len(args)))
	}

	query := `UPDATE subtasks SET ` + strings.Join(set, ", ") + ` WHERE id = $1 AND task_id = $2 RETURNING ` + subtaskColumns
	return scanSubtask(s.db.QueryRowContext(ctx, query, args...))
}

func (s *PostgresStore) DeleteSubtask(ctx context.Context, subtaskID, taskID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM subtasks WHERE id = $1 AND task_id = $2`, subtaskID, taskID)
	if err != nil {
		return false, fmt.Errorf("delete subtask: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete subtask rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListCategoryNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM categories WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// InsertCategory is idempotent: the (user_id, name) unique constraint
// swallows duplicates, so repeat creates succeed without a second row.
func (s *PostgresStore) InsertCategory(ctx context.Context, userID int64, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (user_id, name)
		VALUES ($1, $2)
		ON CONFLICT (user_id, name) DO NOTHING
	`, userID, name)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// ListUsedCategoryValues reports the distinct category strings actually
// present on the user's tasks. Tasks can carry ad-hoc category text that
// was never registered, so this set can diverge from ListCategoryNames.
func (s *PostgresStore) ListUsedCategoryValues(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT category FROM tasks
		WHERE user_id = $1 AND category IS NOT NULL
		ORDER BY category
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list used categories: %w", err)
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan used category: %w", err)
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// TaskCounts returns total and completed counts under the same filter
// semantics as ListTasks, in a single query.
func (s *PostgresStore) TaskCounts(ctx context.Context, userID int64, filter TaskFilter) (total, completed int, err error) {
	args := []any{userID}
	clause, args := taskFilterClause(filter, args)
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE completed)
		FROM tasks WHERE user_id = $1` + clause
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total, &completed); err != nil {
		return 0, 0, fmt.Errorf("count tasks: %w", err)
	}
	return total, completed, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
