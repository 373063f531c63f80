package Controllers

import (
	"errors"
	"io"
	"mime/multipart"

	"AcesFuel/Models"
	"AcesFuel/Push"
	"AcesFuel/Tasks"
	"AcesFuel/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// DriverTaskHandler serves the signed-in driver's task list and the
// completion flow.
type DriverTaskHandler struct {
	Sessions       *Tasks.Registry
	Bindings       *Push.Bindings
	Validator      *Validator
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

func NewDriverTaskHandler(sessions *Tasks.Registry, bindings *Push.Bindings, validator *Validator, maxUploadBytes int64, logger zerolog.Logger) *DriverTaskHandler {
	return &DriverTaskHandler{
		Sessions:       sessions,
		Bindings:       bindings,
		Validator:      validator,
		MaxUploadBytes: maxUploadBytes,
		Logger:         logger.With().Str("component", "driver_tasks").Logger(),
	}
}

// session returns the driver's session, reopening it when the token
// outlived a restart.
func (h *DriverTaskHandler) session(c *fiber.Ctx) *Tasks.Session {
	driver, _ := middleware.CurrentDriver(c)
	if session, ok := h.Sessions.Get(driver.Name); ok {
		return session
	}
	profile := Models.DriverProfile{Name: driver.Name, Phone: driver.Phone}
	session := h.Sessions.Open(profile)
	if h.Bindings != nil {
		if err := h.Bindings.Bind(c.UserContext(), profile); err != nil {
			h.Logger.Warn().Err(err).Str("driver", driver.Name).Msg("failed to bind push profile")
		}
	}
	return session
}

// GetTasks refreshes the driver's list and returns it filtered by ?mode and ?q.
func (h *DriverTaskHandler) GetTasks(c *fiber.Ctx) error {
	session := h.session(c)
	session.Refresh(c.UserContext())
	view := session.View(Tasks.ParseFilterMode(c.Query("mode")), c.Query("q"))

	badges := make(map[uint]string, len(view.Tasks))
	for _, task := range view.Tasks {
		badges[task.ID] = Tasks.StatusBadge(task)
	}
	return c.JSON(fiber.Map{
		"tasks":            view.Tasks,
		"recent_completed": view.Recent,
		"counts":           view.Counts,
		"badges":           badges,
		"mode":             view.Mode,
		"query":            view.Query,
		"generated_at":     view.Generated,
	})
}

func (h *DriverTaskHandler) StartTask(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalidID(c)
	}
	task, err := h.session(c).Start(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(task)
}

func (h *DriverTaskHandler) OpenCompletion(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalidID(c)
	}
	capture, err := h.session(c).OpenCompletion(id)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(capture.State())
}

func (h *DriverTaskHandler) GetCompletion(c *fiber.Ctx) error {
	capture, err := h.session(c).Completion()
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(capture.State())
}

func (h *DriverTaskHandler) UpdateCompletion(c *fiber.Ctx) error {
	capture, err := h.session(c).Completion()
	if err != nil {
		return writeError(c, err)
	}
	var form Tasks.Form
	if err := c.BodyParser(&form); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	capture.UpdateForm(form)
	return c.JSON(capture.State())
}

// UploadImage stores the multipart "file" into the slot named in the path.
func (h *DriverTaskHandler) UploadImage(c *fiber.Ctx) error {
	capture, err := h.session(c).Completion()
	if err != nil {
		return writeError(c, err)
	}
	slot := Tasks.Slot(c.Params("slot"))
	if !slot.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown image slot"})
	}

	header, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}
	data, err := h.readUpload(header)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Could not read file"})
	}

	state, err := capture.Upload(c.UserContext(), Tasks.Image{Slot: slot, FileName: header.Filename, Data: data})
	if err != nil {
		return c.Status(uploadStatus(err)).JSON(fiber.Map{"error": state.Error, "slot": state})
	}
	return c.JSON(state)
}

// UploadImages takes one multipart file per slot, keyed by slot name, and
// uploads them concurrently.
func (h *DriverTaskHandler) UploadImages(c *fiber.Ctx) error {
	capture, err := h.session(c).Completion()
	if err != nil {
		return writeError(c, err)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid multipart form"})
	}

	var images []Tasks.Image
	for _, slot := range Tasks.Slots {
		files := form.File[string(slot)]
		if len(files) == 0 {
			continue
		}
		data, err := h.readUpload(files[0])
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Could not read file", "slot": slot})
		}
		images = append(images, Tasks.Image{Slot: slot, FileName: files[0].Filename, Data: data})
	}
	if len(images) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "at least one slot file is required"})
	}

	states, err := capture.UploadMany(c.UserContext(), images)
	if err != nil {
		return c.Status(uploadStatus(err)).JSON(fiber.Map{"error": err.Error(), "slots": states})
	}
	return c.JSON(fiber.Map{"slots": states})
}

// readUpload reads one byte past the cap, which is enough to know the file
// is too large.
func (h *DriverTaskHandler) readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := io.Reader(file)
	if h.MaxUploadBytes > 0 {
		reader = io.LimitReader(file, h.MaxUploadBytes+1)
	}
	return io.ReadAll(reader)
}

func uploadStatus(err error) int {
	if errors.Is(err, Tasks.ErrFileTooLarge) {
		return fiber.StatusRequestEntityTooLarge
	}
	return fiber.StatusBadGateway
}

func (h *DriverTaskHandler) CancelCompletion(c *fiber.Ctx) error {
	h.session(c).CancelCompletion()
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *DriverTaskHandler) SubmitCompletion(c *fiber.Ctx) error {
	task, err := h.session(c).Submit(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(task)
}

func (h *DriverTaskHandler) Directions(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalidID(c)
	}
	url, err := h.session(c).DirectionsURL(id)
	if err != nil {
		return writeError(c, err)
	}
	if url == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Task has no coordinates"})
	}
	return c.JSON(fiber.Map{"url": url})
}
