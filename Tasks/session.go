package Tasks

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"AcesFuel/Metrics"
	"AcesFuel/Models"
	"AcesFuel/Retention"
	"AcesFuel/Sites"
	"AcesFuel/Storage"

	"github.com/rs/zerolog"
)

// CompletionListener is told about every submitted completion.
type CompletionListener func(ctx context.Context, task Models.Task, entry Models.TaskEntry)

// Deps are the collaborators shared by every driver session.
type Deps struct {
	Store          DriverStore
	Sites          Sites.Directory
	Uploader       Storage.Uploader
	MaxUploadBytes int64
	Clock          func() time.Time
	Logger         zerolog.Logger
	OnComplete     CompletionListener
}

// Session is one signed-in driver's view of their tasks: the visible list,
// the site coordinate cache and the completion being edited.
type Session struct {
	mu         sync.Mutex
	profile    Models.DriverProfile
	tasks      []Models.Task
	capture    *Capture
	generation uint64
	closed     bool

	store      DriverStore
	enricher   *Sites.Enricher
	uploader   Storage.Uploader
	maxBytes   int64
	clock      func() time.Time
	logger     zerolog.Logger
	onComplete CompletionListener
}

func NewSession(profile Models.DriverProfile, deps Deps) *Session {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger.With().Str("driver", profile.Name).Logger()
	return &Session{
		profile:    profile,
		store:      deps.Store,
		enricher:   Sites.NewEnricher(deps.Sites, Sites.NewCache(), logger),
		uploader:   deps.Uploader,
		maxBytes:   deps.MaxUploadBytes,
		clock:      clock,
		logger:     logger,
		onComplete: deps.OnComplete,
	}
}

func (s *Session) Profile() Models.DriverProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// SetProfile updates the identity used for the next refresh.
func (s *Session) SetProfile(profile Models.DriverProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = profile
}

// Tasks returns a copy of the visible task list.
func (s *Session) Tasks() []Models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Models.Task(nil), s.tasks...)
}

// Refresh reloads the driver's tasks, drops completions older than the
// retention window and attaches site coordinates. A failed read yields an
// empty list. Results of a refresh overtaken by a newer refresh or a local
// change are discarded.
func (s *Session) Refresh(ctx context.Context) []Models.Task {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.generation++
	generation := s.generation
	profile := s.profile
	s.mu.Unlock()

	loaded, err := s.store.ListTasksForDriver(ctx, profile.Name, profile.Phone)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load driver tasks")
		loaded = nil
	}

	visible := Retention.Filter(loaded, s.clock())
	visible = s.enricher.Enrich(ctx, visible)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || generation != s.generation {
		s.logger.Debug().Uint64("generation", generation).Msg("discarding stale task list")
		return append([]Models.Task(nil), s.tasks...)
	}
	s.tasks = visible
	return append([]Models.Task(nil), s.tasks...)
}

// Start moves a pending task to in_progress. The local list only changes
// after the store accepts the write.
func (s *Session) Start(ctx context.Context, id uint) (*Models.Task, error) {
	task, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if task.Status != Models.StatusPending {
		Metrics.IncTransition("start", "rejected")
		return nil, fmt.Errorf("%w: cannot start a %s task", ErrInvalidTransition, task.Status)
	}

	if err := s.store.UpdateTask(ctx, id, map[string]interface{}{"status": Models.StatusInProgress}); err != nil {
		Metrics.IncTransition("start", "error")
		s.logger.Error().Err(err).Uint("task_id", id).Msg("failed to start task")
		return nil, fmt.Errorf("start task %d: %w", id, err)
	}
	Metrics.IncTransition("start", "ok")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks[i].Status = Models.StatusInProgress
			updated := s.tasks[i]
			return &updated, nil
		}
	}
	task.Status = Models.StatusInProgress
	return &task, nil
}

// OpenCompletion starts a fresh completion for the task, replacing any
// previous one and its previews. The task itself is not touched.
func (s *Session) OpenCompletion(id uint) (*Capture, error) {
	task, err := s.find(id)
	if err != nil {
		return nil, err
	}

	form := Form{
		SiteID:    task.SiteName,
		MissionID: strconv.FormatUint(uint64(task.ID), 10),
		Notes:     task.Notes,
	}
	if task.MissionID != nil && *task.MissionID != "" {
		form.MissionID = *task.MissionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.capture = newCapture(task.ID, s.profile.Name, form, s.uploader, s.maxBytes, s.clock, s.logger)
	return s.capture, nil
}

// Completion returns the completion being edited.
func (s *Session) Completion() (*Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return nil, ErrNoCompletion
	}
	return s.capture, nil
}

func (s *Session) CancelCompletion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capture = nil
}

// Submit records the open completion. The entry is inserted before the task
// update; a rejected update is retried with status and notes only.
func (s *Session) Submit(ctx context.Context) (*Models.Task, error) {
	capture, err := s.Completion()
	if err != nil {
		return nil, err
	}
	task, err := s.find(capture.TaskID())
	if err != nil {
		return nil, err
	}
	if task.Status != Models.StatusPending && task.Status != Models.StatusInProgress {
		Metrics.IncTransition("submit", "rejected")
		return nil, fmt.Errorf("%w: cannot complete task %d from %s", ErrInvalidTransition, task.ID, task.Status)
	}

	form := capture.Form()
	urls := capture.URLs()
	profile := s.Profile()
	now := s.clock()

	entry := Models.TaskEntry{
		TaskID:           task.ID,
		Liters:           ParseQuantity(form.QuantityAdded, form.Liters),
		ActualInTank:     optionalFloat(form.ActualLitersInTank),
		Rate:             optionalFloat(form.Rate),
		Station:          optionalString(form.Station),
		ReceiptNumber:    optionalString(form.Receipt),
		PhotoURL:         optionalString(form.PhotoURL),
		Odometer:         optionalInt(form.Odometer),
		SubmittedBy:      optionalString(profile.Name),
		CounterBeforeURL: optionalString(urls[SlotCounterBefore]),
		TankBeforeURL:    optionalString(urls[SlotTankBefore]),
		CounterAfterURL:  optionalString(urls[SlotCounterAfter]),
		TankAfterURL:     optionalString(urls[SlotTankAfter]),
	}
	if err := s.store.InsertEntry(ctx, &entry); err != nil {
		s.logger.Error().Err(err).Uint("task_id", task.ID).Msg("failed to record task entry")
	}

	full := map[string]interface{}{
		"status":       Models.StatusCompleted,
		"notes":        form.Notes,
		"completed_at": now,
	}
	for slot, url := range urls {
		full[slot.Column()] = url
	}

	outcome := "ok"
	if err := s.store.UpdateTask(ctx, task.ID, full); err != nil {
		s.logger.Warn().Err(err).Uint("task_id", task.ID).Msg("completion update rejected, retrying with status and notes")
		reduced := map[string]interface{}{
			"status": Models.StatusCompleted,
			"notes":  form.Notes,
		}
		if err := s.store.UpdateTask(ctx, task.ID, reduced); err != nil {
			Metrics.IncTransition("submit", "error")
			s.logger.Error().Err(err).Uint("task_id", task.ID).Msg("failed to complete task")
			return nil, fmt.Errorf("complete task %d: %w", task.ID, err)
		}
		outcome = "reduced"
	}
	Metrics.IncTransition("submit", outcome)

	completed := s.applyCompletion(task, form.Notes, urls, now, outcome == "ok")
	if s.onComplete != nil {
		s.onComplete(ctx, completed, entry)
	}
	return &completed, nil
}

func (s *Session) applyCompletion(task Models.Task, notes string, urls map[Slot]string, now time.Time, full bool) Models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	apply := func(t *Models.Task) {
		t.Status = Models.StatusCompleted
		t.Notes = notes
		at := now
		t.LocalCompletedAt = &at
		if full {
			t.CompletedAt = &at
			t.CounterBeforeURL = firstNonEmpty(urls[SlotCounterBefore], t.CounterBeforeURL)
			t.TankBeforeURL = firstNonEmpty(urls[SlotTankBefore], t.TankBeforeURL)
			t.CounterAfterURL = firstNonEmpty(urls[SlotCounterAfter], t.CounterAfterURL)
			t.TankAfterURL = firstNonEmpty(urls[SlotTankAfter], t.TankAfterURL)
		}
	}

	apply(&task)
	for i := range s.tasks {
		if s.tasks[i].ID == task.ID {
			apply(&s.tasks[i])
		}
	}
	s.tasks = Retention.Filter(s.tasks, now)
	s.generation++
	if s.capture != nil && s.capture.TaskID() == task.ID {
		s.capture = nil
	}
	return task
}

// View is the driver list with its badges.
type View struct {
	Tasks     []Models.Task `json:"tasks"`
	Recent    []Models.Task `json:"recent_completed"`
	Counts    Counts        `json:"counts"`
	Mode      FilterMode    `json:"mode"`
	Query     string        `json:"query"`
	Generated time.Time     `json:"generated_at"`
}

func (s *Session) View(mode FilterMode, query string) View {
	tasks := s.Tasks()
	now := s.clock()
	return View{
		Tasks:     FilterView(tasks, mode, query),
		Recent:    Retention.Recent(tasks, now),
		Counts:    CountTasks(tasks),
		Mode:      mode,
		Query:     query,
		Generated: now,
	}
}

// DirectionsURL links to turn-by-turn directions for a visible task.
func (s *Session) DirectionsURL(id uint) (string, error) {
	task, err := s.find(id)
	if err != nil {
		return "", err
	}
	return Sites.DirectionsURL(&task), nil
}

// Close drops the task list and any open completion. In-flight refreshes
// finishing afterwards are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.generation++
	s.tasks = nil
	s.capture = nil
}

func (s *Session) find(id uint) (Models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Models.Task{}, ErrSessionClosed
	}
	for _, task := range s.tasks {
		if task.ID == id {
			return task, nil
		}
	}
	return Models.Task{}, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
