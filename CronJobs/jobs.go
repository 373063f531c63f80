package CronJobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"AcesFuel/Models"
	"AcesFuel/Push"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ReminderStore is what the daily reminder reads and prunes.
type ReminderStore interface {
	PendingTasksScheduledBetween(ctx context.Context, from, to time.Time) ([]Models.Task, error)
	PushTokensForDriver(ctx context.Context, driverName string) ([]string, error)
	DeletePushTokens(ctx context.Context, tokens []string) error
}

type Pusher interface {
	Send(ctx context.Context, tokens []string, msg Push.Message) (Push.Result, error)
}

// BoardSummary reports the dispatcher board to the back office.
type BoardSummary func(ctx context.Context, at time.Time) error

// TaskReminder pushes a morning reminder to every driver with pending
// tasks scheduled for the day, and optionally posts the board summary.
type TaskReminder struct {
	cronScheduler *cron.Cron
	schedule      string
	jobID         cron.EntryID
	mu            sync.Mutex

	store    ReminderStore
	pusher   Pusher
	summary  BoardSummary
	location *time.Location
	clock    func() time.Time
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewTaskReminder(schedule string, store ReminderStore, pusher Pusher, summary BoardSummary, location *time.Location, logger zerolog.Logger) *TaskReminder {
	if location == nil {
		location = time.UTC
	}
	return &TaskReminder{
		cronScheduler: cron.New(cron.WithSeconds(), cron.WithLocation(location)),
		schedule:      schedule,
		store:         store,
		pusher:        pusher,
		summary:       summary,
		location:      location,
		clock:         time.Now,
		timeout:       5 * time.Minute,
		logger:        logger.With().Str("component", "task_reminder").Logger(),
	}
}

// Start schedules the job. Format: "0 0 6 * * *" = at 06:00:00 every day.
func (r *TaskReminder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.cronScheduler.AddFunc(r.schedule, r.run)
	if err != nil {
		return fmt.Errorf("error scheduling cron job: %w", err)
	}
	r.jobID = id
	r.cronScheduler.Start()
	r.logger.Info().Str("schedule", r.schedule).Msg("task reminder scheduler started")
	return nil
}

// Stop waits for a running job to finish.
func (r *TaskReminder) Stop() {
	ctx := r.cronScheduler.Stop()
	<-ctx.Done()
	r.logger.Info().Msg("task reminder scheduler stopped")
}

func (r *TaskReminder) UpdateSchedule(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.cronScheduler.AddFunc(schedule, r.run)
	if err != nil {
		return fmt.Errorf("error updating schedule: %w", err)
	}
	r.cronScheduler.Remove(r.jobID)
	r.jobID = id
	r.schedule = schedule
	r.logger.Info().Str("schedule", schedule).Msg("task reminder schedule updated")
	return nil
}

func (r *TaskReminder) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	notified, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("daily reminder failed")
	} else {
		r.logger.Info().Int("drivers", notified).Msg("daily reminder sent")
	}

	if r.summary != nil {
		if err := r.summary(ctx, r.clock()); err != nil {
			r.logger.Warn().Err(err).Msg("failed to post board summary")
		}
	}
}

// RunOnce sends today's reminders and returns how many drivers were reached.
// One driver's push failure does not stop the others.
func (r *TaskReminder) RunOnce(ctx context.Context) (int, error) {
	now := r.clock().In(r.location)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.location)
	to := from.AddDate(0, 0, 1)

	tasks, err := r.store.PendingTasksScheduledBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("load pending tasks: %w", err)
	}

	byDriver := make(map[string][]Models.Task)
	for _, task := range tasks {
		name := strings.TrimSpace(task.DriverName)
		if name == "" {
			continue
		}
		byDriver[name] = append(byDriver[name], task)
	}
	drivers := make([]string, 0, len(byDriver))
	for name := range byDriver {
		drivers = append(drivers, name)
	}
	sort.Strings(drivers)

	notified := 0
	for _, name := range drivers {
		tokens, err := r.store.PushTokensForDriver(ctx, name)
		if err != nil {
			r.logger.Warn().Err(err).Str("driver", name).Msg("failed to load push tokens")
			continue
		}
		if len(tokens) == 0 {
			continue
		}

		result, err := r.pusher.Send(ctx, tokens, ReminderMessage(byDriver[name], r.location))
		if err != nil {
			r.logger.Warn().Err(err).Str("driver", name).Msg("failed to push reminder")
			continue
		}
		if len(result.StaleTokens) > 0 {
			if err := r.store.DeletePushTokens(ctx, result.StaleTokens); err != nil {
				r.logger.Warn().Err(err).Msg("failed to prune stale push tokens")
			}
		}
		if result.Sent > 0 {
			notified++
		}
	}
	return notified, nil
}

// ReminderMessage summarizes one driver's pending tasks for the day,
// earliest first.
func ReminderMessage(tasks []Models.Task, location *time.Location) Push.Message {
	sorted := append([]Models.Task(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].ScheduledAt, sorted[j].ScheduledAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.Before(*b)
	})

	title := "You have 1 task today"
	if len(sorted) != 1 {
		title = fmt.Sprintf("You have %d tasks today", len(sorted))
	}
	first := sorted[0]
	body := first.SiteName
	if first.ScheduledAt != nil {
		body = fmt.Sprintf("%s at %s", first.SiteName, first.ScheduledAt.In(location).Format("15:04"))
	}
	if len(sorted) > 1 {
		body = fmt.Sprintf("First stop: %s", body)
	}
	return Push.Message{
		Title: title,
		Body:  body,
		Path:  "/driver",
		Data:  map[string]string{"kind": "daily_reminder"},
	}
}
