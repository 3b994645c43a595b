package store

import "time"

type User struct {
	ID          int64
	SubjectID   string
	Email       string
	DisplayName *string
	CreatedAt   time.Time
}

type Task struct {
	ID        int64
	UserID    int64
	Content   string
	Completed bool
	Category  *string
	DueDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Subtask struct {
	ID        int64
	TaskID    int64
	Content   string
	Completed bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Category struct {
	ID        int64
	UserID    int64
	Name      string
	CreatedAt time.Time
}

// TaskFilter narrows task listings and progress counts. Nil fields
// leave the corresponding dimension unrestricted.
type TaskFilter struct {
	Completed *bool
	Category  *string
	Search    *string
}

// TaskPatch carries a partial task update. Nil fields are left
// untouched; ClearDueDate distinguishes "dueDate: null" from an
// omitted dueDate.
type TaskPatch struct {
	Content      *string
	Category     *string
	Completed    *bool
	DueDate      *time.Time
	ClearDueDate bool
}

// SubtaskPatch carries a partial subtask update.
type SubtaskPatch struct {
	Content   *string
	Completed *bool
}
