package Controllers

import (
	"AcesFuel/Inbox"
	"AcesFuel/Models"
	"AcesFuel/Push"
	"AcesFuel/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type NotificationHandler struct {
	Inbox     *Inbox.Service
	Bindings  *Push.Bindings
	Validator *Validator
	Logger    zerolog.Logger
}

func NewNotificationHandler(inbox *Inbox.Service, bindings *Push.Bindings, validator *Validator, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		Inbox:     inbox,
		Bindings:  bindings,
		Validator: validator,
		Logger:    logger.With().Str("component", "notifications").Logger(),
	}
}

type registerPushInput struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=android ios web"`
}

type tapInput struct {
	Data map[string]interface{} `json:"data"`
}

type sendNotificationInput struct {
	Title      string  `json:"title" validate:"required"`
	Message    string  `json:"message" validate:"required"`
	DriverName *string `json:"driver_name"`
	Path       string  `json:"path"`
}

func (h *NotificationHandler) GetNotifications(c *fiber.Ctx) error {
	driver, _ := middleware.CurrentDriver(c)
	return c.JSON(h.Inbox.Load(c.UserContext(), driver.Name))
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	driver, _ := middleware.CurrentDriver(c)
	inbox, err := h.Inbox.MarkAllRead(c.UserContext(), driver.Name)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(inbox)
}

// RegisterPush records the device token and ties it to the signed-in driver.
func (h *NotificationHandler) RegisterPush(c *fiber.Ctx) error {
	var input registerPushInput
	if ok, err := parseBody(c, h.Validator, &input); !ok {
		return err
	}
	driver, _ := middleware.CurrentDriver(c)
	profile := Models.DriverProfile{Name: driver.Name, Phone: driver.Phone}
	binding, err := h.Bindings.Register(c.UserContext(), profile, input.Token, input.Platform)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "success", "state": binding.State().String()})
}

// ResolveTap turns a notification tap payload into an in-app route.
func (h *NotificationHandler) ResolveTap(c *fiber.Ctx) error {
	var input tapInput
	if err := c.BodyParser(&input); err != nil {
		return c.JSON(fiber.Map{"target": Push.FallbackTarget})
	}
	return c.JSON(fiber.Map{"target": Push.ResolveTapTarget(h.Logger, input.Data)})
}

// SendNotification stores a dispatcher message and pushes it to the
// recipients. Without driver_name it goes to every driver.
func (h *NotificationHandler) SendNotification(c *fiber.Ctx) error {
	var input sendNotificationInput
	if ok, err := parseBody(c, h.Validator, &input); !ok {
		return err
	}
	user, _ := middleware.CurrentUser(c)
	notification, err := h.Inbox.Send(c.UserContext(), Inbox.Outgoing{
		Title:      input.Title,
		Message:    input.Message,
		DriverName: input.DriverName,
		SentBy:     user.Name,
		Path:       input.Path,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(notification)
}
