package Store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"AcesFuel/Models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

// Gorm is the relational backing store for tasks, sites, push tokens,
// notifications and accounts.
type Gorm struct {
	DB *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{DB: db}
}

// ListTasksForDriver returns tasks assigned to the driver by name or phone,
// earliest scheduled first.
func (s *Gorm) ListTasksForDriver(ctx context.Context, name, phone string) ([]Models.Task, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if name == "" && phone == "" {
		return nil, nil
	}

	query := s.DB.WithContext(ctx).Model(&Models.Task{})
	switch {
	case name != "" && phone != "":
		query = query.Where("driver_name = ? OR driver_phone = ?", name, phone)
	case name != "":
		query = query.Where("driver_name = ?", name)
	default:
		query = query.Where("driver_phone = ?", phone)
	}

	var tasks []Models.Task
	if err := query.Order("scheduled_at ASC").Order("id ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list driver tasks: %w", err)
	}
	return tasks, nil
}

// ListTasks returns every task, newest first, with admin labels normalized.
func (s *Gorm) ListTasks(ctx context.Context) ([]Models.Task, error) {
	var tasks []Models.Task
	if err := s.DB.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	for i := range tasks {
		tasks[i].Normalize()
	}
	return tasks, nil
}

func (s *Gorm) GetTask(ctx context.Context, id uint) (*Models.Task, error) {
	var task Models.Task
	if err := s.DB.WithContext(ctx).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return &task, nil
}

func (s *Gorm) InsertTask(ctx context.Context, task *Models.Task) error {
	if err := s.DB.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Gorm) InsertTasks(ctx context.Context, tasks []Models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := s.DB.WithContext(ctx).CreateInBatches(&tasks, 100).Error; err != nil {
		return fmt.Errorf("insert tasks: %w", err)
	}
	return nil
}

// UpdateTask writes the given columns on one task. Unknown columns are
// rejected by the database, which callers rely on to trigger reduced writes.
func (s *Gorm) UpdateTask(ctx context.Context, id uint, fields map[string]interface{}) error {
	result := s.DB.WithContext(ctx).Model(&Models.Task{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("update task %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes the row permanently.
func (s *Gorm) DeleteTask(ctx context.Context, id uint) error {
	result := s.DB.WithContext(ctx).Unscoped().Delete(&Models.Task{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete task %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingTasksScheduledBetween feeds the daily reminder job.
func (s *Gorm) PendingTasksScheduledBetween(ctx context.Context, from, to time.Time) ([]Models.Task, error) {
	var tasks []Models.Task
	err := s.DB.WithContext(ctx).
		Where("status = ?", Models.StatusPending).
		Where("scheduled_at >= ? AND scheduled_at < ?", from, to).
		Order("driver_name ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	return tasks, nil
}

func (s *Gorm) InsertEntry(ctx context.Context, entry *Models.TaskEntry) error {
	if err := s.DB.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("insert task entry: %w", err)
	}
	return nil
}

func (s *Gorm) EntriesForTask(ctx context.Context, taskID uint) ([]Models.TaskEntry, error) {
	var entries []Models.TaskEntry
	if err := s.DB.WithContext(ctx).Where("task_id = ?", taskID).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list task entries: %w", err)
	}
	return entries, nil
}

func (s *Gorm) SitesByID(ctx context.Context, ids []uint) ([]Models.Site, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var sites []Models.Site
	err := s.DB.WithContext(ctx).
		Select("id", "site_name", "latitude", "longitude").
		Where("id IN ?", ids).
		Find(&sites).Error
	if err != nil {
		return nil, fmt.Errorf("sites by id: %w", err)
	}
	return sites, nil
}

// SitesByName matches names case- and whitespace-insensitively. Callers pass
// names already trimmed and lower-cased.
func (s *Gorm) SitesByName(ctx context.Context, names []string) ([]Models.Site, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var sites []Models.Site
	err := s.DB.WithContext(ctx).
		Select("id", "site_name", "latitude", "longitude").
		Where("LOWER(TRIM(site_name)) IN ?", names).
		Find(&sites).Error
	if err != nil {
		return nil, fmt.Errorf("sites by name: %w", err)
	}
	return sites, nil
}

func (s *Gorm) CreateSite(ctx context.Context, site *Models.Site) error {
	if err := s.DB.WithContext(ctx).Create(site).Error; err != nil {
		return fmt.Errorf("create site: %w", err)
	}
	return nil
}

// UpsertPushToken inserts the token or rebinds an existing one to the new identity.
func (s *Gorm) UpsertPushToken(ctx context.Context, token *Models.PushToken) error {
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"driver_name", "driver_phone", "platform", "updated_at"}),
	}).Create(token).Error
	if err != nil {
		return fmt.Errorf("upsert push token: %w", err)
	}
	return nil
}

func (s *Gorm) PushTokensForDriver(ctx context.Context, driverName string) ([]string, error) {
	var tokens []string
	err := s.DB.WithContext(ctx).Model(&Models.PushToken{}).
		Where("LOWER(driver_name) = ?", strings.ToLower(strings.TrimSpace(driverName))).
		Pluck("token", &tokens).Error
	if err != nil {
		return nil, fmt.Errorf("push tokens for driver: %w", err)
	}
	return tokens, nil
}

func (s *Gorm) AllPushTokens(ctx context.Context) ([]string, error) {
	var tokens []string
	if err := s.DB.WithContext(ctx).Model(&Models.PushToken{}).Pluck("token", &tokens).Error; err != nil {
		return nil, fmt.Errorf("all push tokens: %w", err)
	}
	return tokens, nil
}

func (s *Gorm) DeletePushTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if err := s.DB.WithContext(ctx).Unscoped().Where("token IN ?", tokens).Delete(&Models.PushToken{}).Error; err != nil {
		return fmt.Errorf("delete push tokens: %w", err)
	}
	return nil
}

// NotificationsForDriver returns broadcasts plus messages targeted at the driver, newest first.
func (s *Gorm) NotificationsForDriver(ctx context.Context, driverName string, limit int) ([]Models.DriverNotification, error) {
	query := s.DB.WithContext(ctx).
		Where("driver_name IS NULL OR driver_name = ?", driverName).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var notifications []Models.DriverNotification
	if err := query.Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

func (s *Gorm) ReadNotificationIDs(ctx context.Context, driverName string, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var read []uint
	err := s.DB.WithContext(ctx).Model(&Models.NotificationRead{}).
		Where("driver_name = ? AND notification_id IN ?", driverName, ids).
		Pluck("notification_id", &read).Error
	if err != nil {
		return nil, fmt.Errorf("list read receipts: %w", err)
	}
	return read, nil
}

// MarkNotificationsRead records receipts, ignoring ones that already exist.
func (s *Gorm) MarkNotificationsRead(ctx context.Context, driverName string, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	receipts := make([]Models.NotificationRead, 0, len(ids))
	for _, id := range ids {
		receipts = append(receipts, Models.NotificationRead{NotificationID: id, DriverName: driverName})
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "notification_id"}, {Name: "driver_name"}},
		DoNothing: true,
	}).Create(&receipts).Error
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func (s *Gorm) CreateNotification(ctx context.Context, notification *Models.DriverNotification) error {
	if err := s.DB.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// DriverByName finds a driver account ignoring case and surrounding whitespace.
func (s *Gorm) DriverByName(ctx context.Context, name string) (*Models.Driver, error) {
	var driver Models.Driver
	err := s.DB.WithContext(ctx).
		Where("LOWER(TRIM(name)) = ?", strings.ToLower(strings.TrimSpace(name))).
		First(&driver).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("driver by name: %w", err)
	}
	return &driver, nil
}

func (s *Gorm) CreateDriver(ctx context.Context, driver *Models.Driver) error {
	if err := s.DB.WithContext(ctx).Create(driver).Error; err != nil {
		return fmt.Errorf("create driver: %w", err)
	}
	return nil
}

func (s *Gorm) UserByEmail(ctx context.Context, email string) (*Models.User, error) {
	var user Models.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("user by email: %w", err)
	}
	return &user, nil
}

func (s *Gorm) DriverByID(ctx context.Context, id uint) (*Models.Driver, error) {
	var driver Models.Driver
	if err := s.DB.WithContext(ctx).First(&driver, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("driver %d: %w", id, err)
	}
	return &driver, nil
}

func (s *Gorm) UserByID(ctx context.Context, id uint) (*Models.User, error) {
	var user Models.User
	if err := s.DB.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("user %d: %w", id, err)
	}
	return &user, nil
}

func (s *Gorm) CreateUser(ctx context.Context, user *Models.User) error {
	if err := s.DB.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
