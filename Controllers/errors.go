package Controllers

import (
	"errors"
	"strconv"

	"AcesFuel/Inbox"
	"AcesFuel/Import"
	"AcesFuel/Store"
	"AcesFuel/Tasks"

	"github.com/gofiber/fiber/v2"
)

// writeError maps domain errors onto HTTP statuses. Anything unrecognised
// is a rejected remote write and is reported with its message.
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusBadGateway
	switch {
	case errors.Is(err, Tasks.ErrTaskNotFound), errors.Is(err, Store.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, Tasks.ErrInvalidTransition), errors.Is(err, Tasks.ErrNoCompletion):
		status = fiber.StatusConflict
	case errors.Is(err, Tasks.ErrFileTooLarge):
		status = fiber.StatusRequestEntityTooLarge
	case errors.Is(err, Tasks.ErrSessionClosed):
		status = fiber.StatusUnauthorized
	case errors.Is(err, Tasks.ErrUnknownSlot),
		errors.Is(err, Tasks.ErrMissingField),
		errors.Is(err, Tasks.ErrInvalidAdminStatus),
		errors.Is(err, Inbox.ErrEmptyMessage),
		errors.Is(err, Import.ErrMissingHeader),
		errors.Is(err, Import.ErrNoSheet):
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func paramID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func invalidID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid task ID"})
}
