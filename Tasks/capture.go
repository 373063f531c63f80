package Tasks

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"AcesFuel/Metrics"
	"AcesFuel/Storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Slot tags one of the four completion photos.
type Slot string

const (
	SlotCounterBefore Slot = "counter_before"
	SlotTankBefore    Slot = "tank_before"
	SlotCounterAfter  Slot = "counter_after"
	SlotTankAfter     Slot = "tank_after"
)

var Slots = []Slot{SlotCounterBefore, SlotTankBefore, SlotCounterAfter, SlotTankAfter}

func (s Slot) Valid() bool {
	for _, known := range Slots {
		if s == known {
			return true
		}
	}
	return false
}

// Column is the task column that stores the slot's URL.
func (s Slot) Column() string {
	return string(s) + "_url"
}

// Form holds the free-text fields of a completion. Numbers stay strings
// until submit so partially typed input is never rejected.
type Form struct {
	SiteID             string `json:"site_id"`
	MissionID          string `json:"mission_id"`
	ActualLitersInTank string `json:"actual_liters_in_tank"`
	QuantityAdded      string `json:"quantity_added"`
	Notes              string `json:"notes"`
	Liters             string `json:"liters"`
	Rate               string `json:"rate"`
	Station            string `json:"station"`
	Receipt            string `json:"receipt"`
	PhotoURL           string `json:"photo_url"`
	Odometer           string `json:"odometer"`
}

// SlotState is the upload state of one slot.
type SlotState struct {
	Slot      Slot   `json:"slot"`
	Preview   string `json:"preview,omitempty"`
	URL       string `json:"url,omitempty"`
	Uploading bool   `json:"uploading"`
	Error     string `json:"error,omitempty"`
}

// Image is a selected file waiting to be uploaded.
type Image struct {
	Slot     Slot
	FileName string
	Data     []byte
}

type CaptureState struct {
	TaskID uint        `json:"task_id"`
	Form   Form        `json:"form"`
	Slots  []SlotState `json:"slots"`
}

// Capture is the edit state of one task completion.
type Capture struct {
	mu         sync.Mutex
	taskID     uint
	driverName string
	form       Form
	slots      map[Slot]*SlotState

	uploader Storage.Uploader
	maxBytes int64
	clock    func() time.Time
	logger   zerolog.Logger
}

func newCapture(taskID uint, driverName string, form Form, uploader Storage.Uploader, maxBytes int64, clock func() time.Time, logger zerolog.Logger) *Capture {
	slots := make(map[Slot]*SlotState, len(Slots))
	for _, slot := range Slots {
		slots[slot] = &SlotState{Slot: slot}
	}
	return &Capture{
		taskID:     taskID,
		driverName: driverName,
		form:       form,
		slots:      slots,
		uploader:   uploader,
		maxBytes:   maxBytes,
		clock:      clock,
		logger:     logger,
	}
}

func (c *Capture) TaskID() uint {
	return c.taskID
}

func (c *Capture) Form() Form {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form
}

// UpdateForm replaces the editable fields. Site and mission ids are fixed
// when the completion is opened.
func (c *Capture) UpdateForm(form Form) Form {
	c.mu.Lock()
	defer c.mu.Unlock()
	form.SiteID = c.form.SiteID
	form.MissionID = c.form.MissionID
	c.form = form
	return c.form
}

func (c *Capture) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := CaptureState{TaskID: c.taskID, Form: c.form, Slots: make([]SlotState, 0, len(Slots))}
	for _, slot := range Slots {
		state.Slots = append(state.Slots, *c.slots[slot])
	}
	return state
}

// URLs returns the slots that finished uploading.
func (c *Capture) URLs() map[Slot]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	urls := make(map[Slot]string)
	for slot, state := range c.slots {
		if state.URL != "" {
			urls[slot] = state.URL
		}
	}
	return urls
}

// Upload stores one image. The slot shows a local preview while the upload
// runs; on failure the preview stays and the error is recorded on the slot.
func (c *Capture) Upload(ctx context.Context, img Image) (SlotState, error) {
	if !img.Slot.Valid() {
		return SlotState{}, fmt.Errorf("%w: %q", ErrUnknownSlot, img.Slot)
	}

	if c.maxBytes > 0 && int64(len(img.Data)) > c.maxBytes {
		Metrics.IncUpload(string(img.Slot), "too_large")
		state := c.update(img.Slot, func(s *SlotState) {
			s.Error = fmt.Sprintf("Max file size is %dMB", c.maxBytes/(1024*1024))
		})
		return state, ErrFileTooLarge
	}

	c.update(img.Slot, func(s *SlotState) {
		s.Preview = "local:" + img.FileName
		s.Uploading = true
		s.Error = ""
	})

	objectPath := ObjectPath(c.driverName, c.taskID, img.Slot, img.FileName, c.clock())
	url, err := c.uploader.Upload(ctx, objectPath, contentType(img.Data), bytes.NewReader(img.Data))
	if err != nil {
		Metrics.IncUpload(string(img.Slot), "error")
		c.logger.Warn().Err(err).Uint("task_id", c.taskID).Str("slot", string(img.Slot)).Msg("image upload failed")
		state := c.update(img.Slot, func(s *SlotState) {
			s.Uploading = false
			s.Error = fmt.Sprintf("Image upload failed: %v", err)
		})
		return state, fmt.Errorf("upload %s: %w", img.Slot, err)
	}

	Metrics.IncUpload(string(img.Slot), "ok")
	return c.update(img.Slot, func(s *SlotState) {
		s.Preview = url
		s.URL = url
		s.Uploading = false
		s.Error = ""
	}), nil
}

// UploadMany runs the uploads concurrently. A failed slot does not stop the
// others; every slot's state comes back along with the first failure.
func (c *Capture) UploadMany(ctx context.Context, images []Image) ([]SlotState, error) {
	states := make([]SlotState, len(images))
	var g errgroup.Group
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			state, err := c.Upload(ctx, img)
			if state.Slot == "" {
				state = SlotState{Slot: img.Slot, Error: ErrUnknownSlot.Error()}
			}
			states[i] = state
			return err
		})
	}
	return states, g.Wait()
}

func (c *Capture) update(slot Slot, mutate func(*SlotState)) SlotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.slots[slot]
	mutate(state)
	return *state
}

var whitespace = regexp.MustCompile(`\s+`)

// ObjectPath namespaces an upload by driver and task:
// <driver>/<task id|misc>/<slot>_<unix ms>.<ext>
func ObjectPath(driverName string, taskID uint, slot Slot, fileName string, at time.Time) string {
	dir := driverName
	if dir == "" {
		dir = "driver"
	}
	dir = whitespace.ReplaceAllString(dir, "_")
	dir = strings.NewReplacer("/", "_", "\\", "_").Replace(dir)

	task := "misc"
	if taskID != 0 {
		task = fmt.Sprintf("%d", taskID)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/%s/%s_%d.%s", dir, task, slot, at.UnixMilli(), ext)
}

func contentType(data []byte) string {
	detected := mimetype.Detect(data)
	if detected.Is("application/octet-stream") || detected.Is("text/plain") {
		return "image/jpeg"
	}
	return detected.String()
}
