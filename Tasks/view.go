package Tasks

import (
	"regexp"
	"strconv"
	"strings"

	"AcesFuel/Models"
)

// FilterMode selects which open tasks the driver list shows.
type FilterMode string

const (
	FilterActive   FilterMode = "active"
	FilterReturned FilterMode = "returned"
	FilterAll      FilterMode = "all"
)

func ParseFilterMode(raw string) FilterMode {
	switch FilterMode(strings.ToLower(strings.TrimSpace(raw))) {
	case FilterReturned:
		return FilterReturned
	case FilterAll:
		return FilterAll
	default:
		return FilterActive
	}
}

// Counts feed the driver badges.
type Counts struct {
	Active      int `json:"active"`
	Pending     int `json:"pending"`
	Returned    int `json:"returned"`
	Open        int `json:"open"`
	ActiveTotal int `json:"active_total"`
}

func CountTasks(tasks []Models.Task) Counts {
	var counts Counts
	for _, task := range tasks {
		returned := task.AdminStatus == Models.AdminReturned
		switch task.Status {
		case Models.StatusInProgress:
			counts.Active++
		case Models.StatusPending:
			counts.Pending++
		}
		if returned {
			counts.Returned++
		}
		if task.Status != Models.StatusCompleted {
			counts.Open++
			if !returned {
				counts.ActiveTotal++
			}
		}
	}
	return counts
}

// FilterView returns the open tasks matching mode and a case-insensitive
// query over site name, status and notes.
func FilterView(tasks []Models.Task, mode FilterMode, query string) []Models.Task {
	q := strings.ToLower(query)
	out := make([]Models.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Status == Models.StatusCompleted {
			continue
		}
		switch mode {
		case FilterActive:
			if task.Status != Models.StatusInProgress && task.Status != Models.StatusPending {
				continue
			}
		case FilterReturned:
			if task.AdminStatus != Models.AdminReturned {
				continue
			}
		}
		if q != "" && !matches(task, q) {
			continue
		}
		out = append(out, task)
	}
	return out
}

func matches(task Models.Task, q string) bool {
	for _, field := range []string{task.SiteName, string(task.Status), task.Notes} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// StatusBadge is the label shown next to a task. A returned task shows as
// returned whatever its execution status.
func StatusBadge(task Models.Task) string {
	if task.AdminStatus == Models.AdminReturned {
		return "Returned"
	}
	switch task.Status {
	case Models.StatusInProgress:
		return "In Progress"
	case Models.StatusCompleted:
		return "Completed"
	case Models.StatusFailed, Models.StatusIssue:
		return "Issue"
	default:
		return "Pending"
	}
}

var (
	leadingNumber  = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
	leadingInteger = regexp.MustCompile(`^[+-]?\d+`)
)

// ParseLeadingFloat reads the numeric prefix of raw, so "40 L" is 40.
func ParseLeadingFloat(raw string) (float64, bool) {
	match := leadingNumber.FindString(strings.TrimSpace(raw))
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseQuantity uses the quantity field, then the legacy liters field, and
// falls back to 0.
func ParseQuantity(quantityAdded, liters string) float64 {
	raw := strings.TrimSpace(quantityAdded)
	if raw == "" {
		raw = strings.TrimSpace(liters)
	}
	v, ok := ParseLeadingFloat(raw)
	if !ok {
		return 0
	}
	return v
}

func optionalFloat(raw string) *float64 {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	v, ok := ParseLeadingFloat(raw)
	if !ok {
		return nil
	}
	return &v
}

func optionalInt(raw string) *int {
	match := leadingInteger.FindString(strings.TrimSpace(raw))
	if match == "" {
		return nil
	}
	v, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &v
}

func optionalString(raw string) *string {
	if raw == "" {
		return nil
	}
	return &raw
}
