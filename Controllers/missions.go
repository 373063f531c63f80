package Controllers

import (
	"strings"
	"time"

	"AcesFuel/Import"
	"AcesFuel/Models"
	"AcesFuel/Tasks"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// MissionHandler is the dispatcher's task board.
type MissionHandler struct {
	Board     *Tasks.Board
	Validator *Validator
	Location  *time.Location
	Logger    zerolog.Logger
}

func NewMissionHandler(board *Tasks.Board, validator *Validator, location *time.Location, logger zerolog.Logger) *MissionHandler {
	if location == nil {
		location = time.UTC
	}
	return &MissionHandler{
		Board:     board,
		Validator: validator,
		Location:  location,
		Logger:    logger.With().Str("component", "missions").Logger(),
	}
}

type createMissionInput struct {
	SiteID         *string    `json:"site_id"`
	SiteName       string     `json:"site_name" validate:"required_without=SiteID"`
	DriverName     string     `json:"driver_name" validate:"required"`
	DriverPhone    string     `json:"driver_phone"`
	ScheduledAt    *time.Time `json:"scheduled_at"`
	RequiredLiters *float64   `json:"required_liters" validate:"omitempty,gte=0"`
	Notes          string     `json:"notes"`
	AdminStatus    string     `json:"admin_status"`
}

type adminStatusInput struct {
	AdminStatus string `json:"admin_status" validate:"required"`
}

func (h *MissionHandler) GetMissions(c *fiber.Ctx) error {
	tasks := h.Board.Load(c.UserContext())
	if status := strings.TrimSpace(c.Query("admin_status")); status != "" {
		filtered := tasks[:0]
		for _, task := range tasks {
			if string(task.AdminStatus) == status {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}
	if tasks == nil {
		tasks = []Models.Task{}
	}
	return c.JSON(fiber.Map{
		"tasks":          tasks,
		"counts":         h.Board.CountsByAdminStatus(),
		"admin_statuses": Models.AdminStatuses,
	})
}

func (h *MissionHandler) CreateMission(c *fiber.Ctx) error {
	var input createMissionInput
	if ok, err := parseBody(c, h.Validator, &input); !ok {
		return err
	}
	task, err := h.Board.Create(c.UserContext(), Tasks.NewTask{
		SiteID:         input.SiteID,
		SiteName:       input.SiteName,
		DriverName:     input.DriverName,
		DriverPhone:    input.DriverPhone,
		ScheduledAt:    input.ScheduledAt,
		RequiredLiters: input.RequiredLiters,
		Notes:          input.Notes,
		AdminStatus:    Models.AdminStatus(strings.TrimSpace(input.AdminStatus)),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *MissionHandler) SetAdminStatus(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalidID(c)
	}
	var input adminStatusInput
	if ok, err := parseBody(c, h.Validator, &input); !ok {
		return err
	}
	task, err := h.Board.SetAdminStatus(c.UserContext(), id, Models.AdminStatus(strings.TrimSpace(input.AdminStatus)))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(task)
}

func (h *MissionHandler) DeleteMission(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalidID(c)
	}
	if err := h.Board.Remove(c.UserContext(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Task deleted successfully"})
}

// ImportMissions inserts every row of an uploaded xlsx as a pending task.
// A bad row rejects the whole file.
func (h *MissionHandler) ImportMissions(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}
	file, err := header.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Could not read file"})
	}
	defer file.Close()

	rows, err := Import.ParseWorkbook(file, h.Location)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if len(rows) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Workbook has no task rows"})
	}

	tasks, err := h.Board.Import(c.UserContext(), rows)
	if err != nil {
		return writeError(c, err)
	}
	h.Logger.Info().Int("rows", len(tasks)).Str("file", header.Filename).Msg("imported tasks")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"imported": len(tasks), "tasks": tasks})
}

func (h *MissionHandler) ImportTemplate(c *fiber.Ctx) error {
	buf, err := Import.Template()
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to build import template")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not build template"})
	}
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="tasks_template.xlsx"`)
	return c.Send(buf.Bytes())
}
