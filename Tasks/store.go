package Tasks

import (
	"context"
	"errors"

	"AcesFuel/Models"
)

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidAdminStatus = errors.New("unknown administrative status")
	ErrNoCompletion       = errors.New("no completion in progress")
	ErrUnknownSlot        = errors.New("unknown image slot")
	ErrFileTooLarge       = errors.New("file exceeds the upload size limit")
	ErrSessionClosed      = errors.New("driver session closed")
	ErrMissingField       = errors.New("required field missing")
)

// DriverStore is what a driver session reads and writes.
type DriverStore interface {
	ListTasksForDriver(ctx context.Context, name, phone string) ([]Models.Task, error)
	UpdateTask(ctx context.Context, id uint, fields map[string]interface{}) error
	InsertEntry(ctx context.Context, entry *Models.TaskEntry) error
}

// DispatchStore is what the dispatcher board reads and writes.
type DispatchStore interface {
	ListTasks(ctx context.Context) ([]Models.Task, error)
	InsertTask(ctx context.Context, task *Models.Task) error
	InsertTasks(ctx context.Context, tasks []Models.Task) error
	UpdateTask(ctx context.Context, id uint, fields map[string]interface{}) error
	DeleteTask(ctx context.Context, id uint) error
}
