package Models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExecutionStatus is the driver-facing lifecycle state of a task.
type ExecutionStatus string

const (
	StatusPending    ExecutionStatus = "pending"
	StatusInProgress ExecutionStatus = "in_progress"
	StatusCompleted  ExecutionStatus = "completed"
	StatusFailed     ExecutionStatus = "failed"
	StatusIssue      ExecutionStatus = "issue"
	StatusCanceled   ExecutionStatus = "canceled"
)

// AdminStatus is the dispatcher review label. It is independent of ExecutionStatus.
type AdminStatus string

const (
	AdminCreation AdminStatus = "Creation"
	AdminFinished AdminStatus = "Finished by Driver"
	AdminApproved AdminStatus = "Task approved"
	AdminReturned AdminStatus = "Task returned to the driver"
	AdminReported AdminStatus = "Reported by driver"
	AdminCanceled AdminStatus = "Canceled"
)

var AdminStatuses = []AdminStatus{
	AdminCreation,
	AdminFinished,
	AdminApproved,
	AdminReturned,
	AdminReported,
	AdminCanceled,
}

func (s AdminStatus) Valid() bool {
	for _, known := range AdminStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// AdminStatusFor maps a raw execution status onto the label a row gets when it
// arrives without one.
func AdminStatusFor(status ExecutionStatus) AdminStatus {
	switch ExecutionStatus(strings.ToLower(string(status))) {
	case StatusCompleted:
		return AdminFinished
	case StatusInProgress:
		return AdminReported
	case StatusCanceled:
		return AdminCanceled
	default:
		return AdminCreation
	}
}

// Task is one unit of field refueling work assigned to a driver.
type Task struct {
	gorm.Model
	MissionID      *string         `json:"mission_id"`
	SiteID         *string         `json:"site_id"`
	SiteName       string          `json:"site_name"`
	DriverName     string          `json:"driver_name" gorm:"index"`
	DriverPhone    string          `json:"driver_phone" gorm:"index"`
	ScheduledAt    *time.Time      `json:"scheduled_at"`
	Status         ExecutionStatus `json:"status" gorm:"type:varchar(32);default:pending"`
	AdminStatus    AdminStatus     `json:"admin_status" gorm:"type:varchar(64)"`
	RequiredLiters *float64        `json:"required_liters"`
	Notes          string          `json:"notes" gorm:"type:text"`

	SiteLatitude  *float64 `json:"site_latitude"`
	SiteLongitude *float64 `json:"site_longitude"`

	CounterBeforeURL string `json:"counter_before_url"`
	TankBeforeURL    string `json:"tank_before_url"`
	CounterAfterURL  string `json:"counter_after_url"`
	TankAfterURL     string `json:"tank_after_url"`

	CompletedAt       *time.Time `json:"completed_at"`
	DriverCompletedAt *time.Time `json:"driver_completed_at"`
	SubmittedAt       *time.Time `json:"submitted_at"`
	FinishedAt        *time.Time `json:"finished_at"`

	// Legacy keeps raw fields from imports and older clients (alternate
	// timestamp and coordinate names).
	Legacy datatypes.JSONMap `json:"legacy,omitempty"`

	// LocalCompletedAt is never persisted.
	LocalCompletedAt *time.Time `json:"local_completed_at,omitempty" gorm:"-"`
}

func (Task) TableName() string {
	return "driver_tasks"
}

// Normalize fills the defaults a freshly ingested row must carry.
func (t *Task) Normalize() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.AdminStatus == "" {
		t.AdminStatus = AdminStatusFor(t.Status)
	}
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	t.Normalize()
	return nil
}

// TaskEntry is an immutable record of one completion submission.
type TaskEntry struct {
	gorm.Model
	TaskID           uint     `json:"task_id" gorm:"index;not null"`
	Liters           float64  `json:"liters"`
	ActualInTank     *float64 `json:"actual_liters_in_tank"`
	Rate             *float64 `json:"rate"`
	Station          *string  `json:"station"`
	ReceiptNumber    *string  `json:"receipt_number"`
	PhotoURL         *string  `json:"photo_url"`
	Odometer         *int     `json:"odometer"`
	SubmittedBy      *string  `json:"submitted_by"`
	CounterBeforeURL *string  `json:"counter_before_url"`
	TankBeforeURL    *string  `json:"tank_before_url"`
	CounterAfterURL  *string  `json:"counter_after_url"`
	TankAfterURL     *string  `json:"tank_after_url"`
}

func (TaskEntry) TableName() string {
	return "driver_task_entries"
}
