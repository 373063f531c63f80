package Retention

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"AcesFuel/Models"
)

// Window is how long a completed task stays in its driver's own view.
const Window = 7 * 24 * time.Hour

// Accessor reads one candidate completion timestamp from a task.
type Accessor struct {
	Field string
	Read  func(t *Models.Task) (time.Time, bool)
}

// CompletionAccessors lists the completion timestamp sources in priority
// order. The first one that yields a valid instant wins.
var CompletionAccessors = []Accessor{
	{"local_completed_at", func(t *Models.Task) (time.Time, bool) { return fromPtr(t.LocalCompletedAt) }},
	{"completed_at", func(t *Models.Task) (time.Time, bool) { return fromPtr(t.CompletedAt) }},
	{"driver_completed_at", func(t *Models.Task) (time.Time, bool) { return fromPtr(t.DriverCompletedAt) }},
	{"completedAt", legacy("completedAt")},
	{"completed_at_local", legacy("completed_at_local")},
	{"driver_completed_at_local", legacy("driver_completed_at_local")},
	{"submitted_at", func(t *Models.Task) (time.Time, bool) { return fromPtr(t.SubmittedAt) }},
	{"finished_at", func(t *Models.Task) (time.Time, bool) { return fromPtr(t.FinishedAt) }},
	{"updated_at", func(t *Models.Task) (time.Time, bool) { return fromValue(t.UpdatedAt) }},
	{"created_at", func(t *Models.Task) (time.Time, bool) { return fromValue(t.CreatedAt) }},
}

// CompletionInstant returns the first valid completion timestamp of t.
func CompletionInstant(t *Models.Task) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	for _, accessor := range CompletionAccessors {
		if instant, ok := accessor.Read(t); ok {
			return instant, true
		}
	}
	return time.Time{}, false
}

// Expired reports whether a completed task has left the retention window.
// Tasks without a resolvable instant never expire.
func Expired(t *Models.Task, now time.Time) bool {
	if t.Status != Models.StatusCompleted {
		return false
	}
	instant, ok := CompletionInstant(t)
	if !ok {
		return false
	}
	return now.Sub(instant) > Window
}

// Filter drops completed tasks older than Window and backfills
// LocalCompletedAt on the survivors. The input slice is not modified.
func Filter(tasks []Models.Task, now time.Time) []Models.Task {
	kept := make([]Models.Task, 0, len(tasks))
	for _, task := range tasks {
		if Expired(&task, now) {
			continue
		}
		if task.Status == Models.StatusCompleted && task.LocalCompletedAt == nil {
			if instant, ok := CompletionInstant(&task); ok {
				task.LocalCompletedAt = &instant
			}
		}
		kept = append(kept, task)
	}
	return kept
}

// Recent returns the completed tasks still inside the window, newest first.
// Unlike Filter, tasks with no resolvable instant are left out since they
// cannot be ordered.
func Recent(tasks []Models.Task, now time.Time) []Models.Task {
	type dated struct {
		task Models.Task
		at   time.Time
	}
	var recent []dated
	for _, task := range tasks {
		if task.Status != Models.StatusCompleted {
			continue
		}
		instant, ok := CompletionInstant(&task)
		if !ok || now.Sub(instant) > Window {
			continue
		}
		recent = append(recent, dated{task: task, at: instant})
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].at.After(recent[j].at)
	})

	out := make([]Models.Task, 0, len(recent))
	for _, r := range recent {
		out = append(out, r.task)
	}
	return out
}

func fromPtr(v *time.Time) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}
	return fromValue(*v)
}

func fromValue(v time.Time) (time.Time, bool) {
	if v.IsZero() {
		return time.Time{}, false
	}
	return v, true
}

func legacy(key string) func(t *Models.Task) (time.Time, bool) {
	return func(t *Models.Task) (time.Time, bool) {
		if t.Legacy == nil {
			return time.Time{}, false
		}
		raw, ok := t.Legacy[key]
		if !ok {
			return time.Time{}, false
		}
		return ParseInstant(raw)
	}
}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// ParseInstant coerces a loosely typed value (time, RFC3339-ish string or
// epoch milliseconds) into a time. Empty and unparsable values report false.
func ParseInstant(raw interface{}) (time.Time, bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return fromValue(v)
	case *time.Time:
		return fromPtr(v)
	case float64:
		if v == 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(v)).UTC(), true
	case int64:
		if v == 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(v).UTC(), true
	case int:
		if v == 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(v)).UTC(), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range layouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms != 0 {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	return time.Time{}, false
}
