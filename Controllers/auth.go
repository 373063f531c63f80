package Controllers

import (
	"context"
	"errors"
	"strings"

	"AcesFuel/Models"
	"AcesFuel/Push"
	"AcesFuel/Store"
	"AcesFuel/Tasks"
	"AcesFuel/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type AccountStore interface {
	DriverByName(ctx context.Context, name string) (*Models.Driver, error)
	UserByEmail(ctx context.Context, email string) (*Models.User, error)
}

// AuthHandler signs drivers and dispatchers in and out. A driver sign-in
// opens the driver's task session and binds their push profile.
type AuthHandler struct {
	Accounts  AccountStore
	Auth      *middleware.Auth
	Sessions  *Tasks.Registry
	Bindings  *Push.Bindings
	Validator *Validator
	Logger    zerolog.Logger
}

func NewAuthHandler(accounts AccountStore, auth *middleware.Auth, sessions *Tasks.Registry, bindings *Push.Bindings, validator *Validator, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		Accounts:  accounts,
		Auth:      auth,
		Sessions:  sessions,
		Bindings:  bindings,
		Validator: validator,
		Logger:    logger.With().Str("component", "auth_handler").Logger(),
	}
}

type driverLoginInput struct {
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type dispatcherLoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) DriverLogin(c *fiber.Ctx) error {
	var input driverLoginInput
	if ok, err := parseBody(c, h.Validator, &input); !ok {
		return err
	}

	driver, err := h.Accounts.DriverByName(c.UserContext(), input.Name)
	if err != nil {
		if errors.Is(err, Store.ErrNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid name or password"})
		}
		h.Logger.Error().Err(err).Msg("driver lookup failed")
		return writeError(c, err)
	}
	if bcrypt.CompareHashAndPassword(driver.PasswordHash, []byte(input.Password)) != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid name or password"})
	}
	if !driver.Active {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"message": "Driver account is inactive"})
	}

	cookie, err := h.Auth.SignDriver(*driver)
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to sign driver token")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Could not sign in"})
	}
	c.Cookie(cookie)

	profile := Models.DriverProfile{Name: strings.TrimSpace(driver.Name), Phone: strings.TrimSpace(driver.Phone)}
	h.Sessions.Open(profile)
	if err := h.Bindings.Bind(c.UserContext(), profile); err != nil {
		h.Logger.Warn().Err(err).Str("driver", profile.Name).Msg("failed to bind push profile")
	}

	h.Logger.Info().Str("driver", profile.Name).Msg("driver signed in")
	return c.JSON(fiber.Map{"message": "success", "driver": profile})
}

func (h *AuthHandler) DriverLogout(c *fiber.Ctx) error {
	c.Cookie(h.Auth.ExpiredCookie(middleware.DriverCookie))

	driver, ok := middleware.CurrentDriver(c)
	if !ok {
		return c.JSON(fiber.Map{"message": "success"})
	}
	h.Sessions.Close(driver.Name)
	if err := h.Bindings.Release(c.UserContext(), driver.Name); err != nil {
		h.Logger.Warn().Err(err).Str("driver", driver.Name).Msg("failed to unbind push profile")
	}
	return c.JSON(fiber.Map{"message": "success"})
}

func (h *AuthHandler) DriverMe(c *fiber.Ctx) error {
	driver, _ := middleware.CurrentDriver(c)
	return c.JSON(Models.DriverProfile{Name: driver.Name, Phone: driver.Phone})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var input dispatcherLoginInput
	if ok, err := parseBody(c, h.Validator, &input); !ok {
		return err
	}

	user, err := h.Accounts.UserByEmail(c.UserContext(), strings.TrimSpace(input.Email))
	if err != nil {
		if errors.Is(err, Store.ErrNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid email or password"})
		}
		return writeError(c, err)
	}
	if bcrypt.CompareHashAndPassword(user.Password, []byte(input.Password)) != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid email or password"})
	}

	cookie, err := h.Auth.SignDispatcher(*user)
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to sign dispatcher token")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Could not sign in"})
	}
	c.Cookie(cookie)
	return c.JSON(fiber.Map{"message": "success", "user": user})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(h.Auth.ExpiredCookie(middleware.DispatcherCookie))
	return c.JSON(fiber.Map{"message": "success"})
}

func (h *AuthHandler) User(c *fiber.Ctx) error {
	user, _ := middleware.CurrentUser(c)
	return c.JSON(user)
}
