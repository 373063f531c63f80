package Controllers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// LogEntry is one "request" line written by the request logger.
type LogEntry struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	LatencyMs float64   `json:"latency"`
	IP        string    `json:"ip"`
	Username  string    `json:"username,omitempty"`
	Driver    string    `json:"driver,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// LogGroup aggregates the requests to one method and path.
type LogGroup struct {
	Path        string     `json:"path"`
	Method      string     `json:"method"`
	Count       int        `json:"count"`
	AvgLatency  float64    `json:"avg_latency_ms"`
	MinLatency  float64    `json:"min_latency_ms"`
	MaxLatency  float64    `json:"max_latency_ms"`
	SuccessRate float64    `json:"success_rate"`
	Logs        []LogEntry `json:"logs"`
}

type LogsResponse struct {
	Groups      []LogGroup `json:"groups"`
	TotalLogs   int        `json:"total_logs"`
	TotalGroups int        `json:"total_groups"`
	Page        int        `json:"page"`
	PageSize    int        `json:"page_size"`
	TotalPages  int        `json:"total_pages"`
	DateFrom    time.Time  `json:"date_from"`
	DateTo      time.Time  `json:"date_to"`
}

// LogHandler serves the request log back to administrators. It needs the
// service to log JSON to a file.
type LogHandler struct {
	FilePath string
	Location *time.Location
	Logger   zerolog.Logger
}

func NewLogHandler(filePath string, location *time.Location, logger zerolog.Logger) *LogHandler {
	if location == nil {
		location = time.UTC
	}
	return &LogHandler{FilePath: filePath, Location: location, Logger: logger.With().Str("component", "logs").Logger()}
}

// GetLogs groups request logs by route, with ?date_from, ?date_to, ?path,
// ?method, ?status filters and paging over groups.
func (h *LogHandler) GetLogs(c *fiber.Ctx) error {
	dateFrom, dateTo, err := h.dateRange(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	page, pageSize := paging(c)

	logs, err := h.read(dateFrom, dateTo)
	if err != nil {
		return h.readFailed(c, err)
	}
	groups := groupLogsByPath(filterLogs(logs, c.Query("path"), c.Query("method"), c.Query("status")))

	totalLogs := 0
	for _, group := range groups {
		totalLogs += group.Count
	}
	start, end := pageBounds(len(groups), page, pageSize)

	return c.JSON(LogsResponse{
		Groups:      groups[start:end],
		TotalLogs:   totalLogs,
		TotalGroups: len(groups),
		Page:        page,
		PageSize:    pageSize,
		TotalPages:  (len(groups) + pageSize - 1) / pageSize,
		DateFrom:    dateFrom,
		DateTo:      dateTo,
	})
}

func (h *LogHandler) GetLogStats(c *fiber.Ctx) error {
	dateFrom, dateTo, err := h.dateRange(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	logs, err := h.read(dateFrom, dateTo)
	if err != nil {
		return h.readFailed(c, err)
	}

	var successful, failed int
	var totalLatency, maxLatency float64
	minLatency := 0.0
	methodStats := make(map[string]int)
	statusStats := make(map[int]int)
	pathStats := make(map[string]int)
	for i, entry := range logs {
		switch {
		case entry.Status >= 200 && entry.Status < 300:
			successful++
		case entry.Status >= 400:
			failed++
		}
		totalLatency += entry.LatencyMs
		if i == 0 || entry.LatencyMs < minLatency {
			minLatency = entry.LatencyMs
		}
		if entry.LatencyMs > maxLatency {
			maxLatency = entry.LatencyMs
		}
		methodStats[entry.Method]++
		statusStats[entry.Status]++
		pathStats[entry.Path]++
	}

	avgLatency, successRate := 0.0, 0.0
	if len(logs) > 0 {
		avgLatency = totalLatency / float64(len(logs))
		successRate = float64(successful) / float64(len(logs)) * 100
	}

	topPaths := make([]fiber.Map, 0, len(pathStats))
	for path, count := range pathStats {
		topPaths = append(topPaths, fiber.Map{"path": path, "count": count})
	}
	sort.Slice(topPaths, func(i, j int) bool {
		return topPaths[i]["count"].(int) > topPaths[j]["count"].(int)
	})
	if len(topPaths) > 10 {
		topPaths = topPaths[:10]
	}

	return c.JSON(fiber.Map{
		"total_requests":      len(logs),
		"successful_requests": successful,
		"error_requests":      failed,
		"success_rate":        successRate,
		"avg_latency_ms":      avgLatency,
		"min_latency_ms":      minLatency,
		"max_latency_ms":      maxLatency,
		"method_stats":        methodStats,
		"status_stats":        statusStats,
		"top_paths":           topPaths,
		"date_from":           dateFrom,
		"date_to":             dateTo,
	})
}

func (h *LogHandler) readFailed(c *fiber.Ctx, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Request log is not being written to a file"})
	}
	h.Logger.Error().Err(err).Str("file", h.FilePath).Msg("failed to read request log")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to read logs"})
}

// dateRange defaults to today; an open end runs up to now.
func (h *LogHandler) dateRange(c *fiber.Ctx) (time.Time, time.Time, error) {
	now := time.Now().In(h.Location)
	fromRaw, toRaw := c.Query("date_from"), c.Query("date_to")
	if fromRaw == "" && toRaw == "" {
		from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.Location)
		return from, from.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}

	from := time.Unix(0, 0).In(h.Location)
	to := now
	if fromRaw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", fromRaw, h.Location)
		if err != nil {
			return from, to, errors.New("Invalid date_from format. Use YYYY-MM-DD")
		}
		from = parsed
	}
	if toRaw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", toRaw, h.Location)
		if err != nil {
			return from, to, errors.New("Invalid date_to format. Use YYYY-MM-DD")
		}
		to = parsed.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return from, to, nil
}

func (h *LogHandler) read(from, to time.Time) ([]LogEntry, error) {
	if h.FilePath == "" {
		return nil, fmt.Errorf("no log file configured: %w", os.ErrNotExist)
	}
	file, err := os.Open(h.FilePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var logs []LogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil || entry.Message != "request" {
			continue
		}
		if entry.Time.Before(from) || entry.Time.After(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, scanner.Err()
}

func filterLogs(logs []LogEntry, pathFilter, methodFilter, statusFilter string) []LogEntry {
	status, statusErr := strconv.Atoi(statusFilter)
	var filtered []LogEntry
	for _, entry := range logs {
		if pathFilter != "" && !strings.Contains(strings.ToLower(entry.Path), strings.ToLower(pathFilter)) {
			continue
		}
		if methodFilter != "" && !strings.EqualFold(entry.Method, methodFilter) {
			continue
		}
		if statusFilter != "" && statusErr == nil && entry.Status != status {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered
}

// groupLogsByPath returns the busiest routes first.
func groupLogsByPath(logs []LogEntry) []LogGroup {
	groupMap := make(map[string]*LogGroup)
	order := []string{}
	for _, entry := range logs {
		key := entry.Method + " " + entry.Path
		group, ok := groupMap[key]
		if !ok {
			group = &LogGroup{Path: entry.Path, Method: entry.Method, MinLatency: entry.LatencyMs}
			groupMap[key] = group
			order = append(order, key)
		}
		group.Count++
		group.Logs = append(group.Logs, entry)
		group.AvgLatency += (entry.LatencyMs - group.AvgLatency) / float64(group.Count)
		if entry.LatencyMs < group.MinLatency {
			group.MinLatency = entry.LatencyMs
		}
		if entry.LatencyMs > group.MaxLatency {
			group.MaxLatency = entry.LatencyMs
		}
		ok2xx := 0.0
		if entry.Status >= 200 && entry.Status < 300 {
			ok2xx = 1
		}
		group.SuccessRate += (ok2xx - group.SuccessRate) / float64(group.Count)
	}

	groups := make([]LogGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, *groupMap[key])
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})
	return groups
}

func paging(c *fiber.Ctx) (int, int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 1000 {
		pageSize = 50
	}
	return page, pageSize
}

func pageBounds(total, page, pageSize int) (int, int) {
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}
