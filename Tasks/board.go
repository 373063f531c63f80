package Tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"AcesFuel/Metrics"
	"AcesFuel/Models"

	"github.com/rs/zerolog"
)

// NewTask is a dispatcher-created assignment.
type NewTask struct {
	SiteID         *string
	SiteName       string
	DriverName     string
	DriverPhone    string
	ScheduledAt    *time.Time
	RequiredLiters *float64
	Notes          string
	AdminStatus    Models.AdminStatus
}

// Board is the dispatcher's view of every task. Unlike a driver session it
// never applies the retention window.
type Board struct {
	mu     sync.Mutex
	tasks  []Models.Task
	store  DispatchStore
	logger zerolog.Logger
}

func NewBoard(store DispatchStore, logger zerolog.Logger) *Board {
	return &Board{
		store:  store,
		logger: logger.With().Str("component", "dispatch_board").Logger(),
	}
}

// Load replaces the board with the stored tasks. A failed read leaves the board empty.
func (b *Board) Load(ctx context.Context) []Models.Task {
	tasks, err := b.store.ListTasks(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to load tasks")
		tasks = nil
	}
	for i := range tasks {
		tasks[i].Normalize()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = tasks
	return append([]Models.Task(nil), b.tasks...)
}

func (b *Board) Tasks() []Models.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Models.Task(nil), b.tasks...)
}

// Create inserts a pending task. The admin label defaults to Creation.
func (b *Board) Create(ctx context.Context, input NewTask) (*Models.Task, error) {
	task, err := input.build()
	if err != nil {
		return nil, err
	}
	if err := b.store.InsertTask(ctx, &task); err != nil {
		Metrics.IncTransition("create", "error")
		b.logger.Error().Err(err).Str("site", task.SiteName).Msg("failed to create task")
		return nil, fmt.Errorf("create task: %w", err)
	}
	Metrics.IncTransition("create", "ok")

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append([]Models.Task{task}, b.tasks...)
	return &task, nil
}

// Import inserts a batch of tasks as pending. Rows are validated before
// anything is written.
func (b *Board) Import(ctx context.Context, inputs []NewTask) ([]Models.Task, error) {
	tasks := make([]Models.Task, 0, len(inputs))
	for i, input := range inputs {
		task, err := input.build()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		tasks = append(tasks, task)
	}
	if err := b.store.InsertTasks(ctx, tasks); err != nil {
		Metrics.IncTransition("import", "error")
		b.logger.Error().Err(err).Int("rows", len(tasks)).Msg("failed to import tasks")
		return nil, fmt.Errorf("import tasks: %w", err)
	}
	Metrics.IncTransition("import", "ok")

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(append([]Models.Task(nil), tasks...), b.tasks...)
	return tasks, nil
}

// SetAdminStatus relabels a task. Any label may follow any other; only the
// admin_status field changes locally, and only after the store accepts it.
func (b *Board) SetAdminStatus(ctx context.Context, id uint, status Models.AdminStatus) (*Models.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAdminStatus, status)
	}
	if err := b.store.UpdateTask(ctx, id, map[string]interface{}{"admin_status": status}); err != nil {
		Metrics.IncTransition("admin_status", "error")
		b.logger.Error().Err(err).Uint("task_id", id).Str("admin_status", string(status)).Msg("failed to update admin status")
		return nil, fmt.Errorf("set admin status on task %d: %w", id, err)
	}
	Metrics.IncTransition("admin_status", "ok")

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.tasks {
		if b.tasks[i].ID == id {
			b.tasks[i].AdminStatus = status
			updated := b.tasks[i]
			return &updated, nil
		}
	}
	task := Models.Task{AdminStatus: status}
	task.ID = id
	return &task, nil
}

// Remove deletes the task from the store and only then from the board.
func (b *Board) Remove(ctx context.Context, id uint) error {
	if err := b.store.DeleteTask(ctx, id); err != nil {
		Metrics.IncTransition("delete", "error")
		b.logger.Error().Err(err).Uint("task_id", id).Msg("failed to delete task")
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	Metrics.IncTransition("delete", "ok")

	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.tasks[:0]
	for _, task := range b.tasks {
		if task.ID != id {
			kept = append(kept, task)
		}
	}
	b.tasks = kept
	return nil
}

// CountsByAdminStatus counts every label, including ones with no tasks.
func (b *Board) CountsByAdminStatus() map[Models.AdminStatus]int {
	counts := make(map[Models.AdminStatus]int, len(Models.AdminStatuses))
	for _, status := range Models.AdminStatuses {
		counts[status] = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, task := range b.tasks {
		counts[task.AdminStatus]++
	}
	return counts
}

func (n NewTask) build() (Models.Task, error) {
	siteName := strings.TrimSpace(n.SiteName)
	hasSiteID := n.SiteID != nil && strings.TrimSpace(*n.SiteID) != ""
	if siteName == "" && !hasSiteID {
		return Models.Task{}, fmt.Errorf("%w: site", ErrMissingField)
	}
	if strings.TrimSpace(n.DriverName) == "" {
		return Models.Task{}, fmt.Errorf("%w: driver_name", ErrMissingField)
	}

	admin := n.AdminStatus
	if admin == "" {
		admin = Models.AdminCreation
	}
	if !admin.Valid() {
		return Models.Task{}, fmt.Errorf("%w: %q", ErrInvalidAdminStatus, admin)
	}

	task := Models.Task{
		SiteName:       siteName,
		DriverName:     strings.TrimSpace(n.DriverName),
		DriverPhone:    strings.TrimSpace(n.DriverPhone),
		ScheduledAt:    n.ScheduledAt,
		Status:         Models.StatusPending,
		AdminStatus:    admin,
		RequiredLiters: n.RequiredLiters,
		Notes:          n.Notes,
	}
	if hasSiteID {
		id := strings.TrimSpace(*n.SiteID)
		task.SiteID = &id
	}
	return task, nil
}
