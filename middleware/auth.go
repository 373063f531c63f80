package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"AcesFuel/Config"
	"AcesFuel/Models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
)

const (
	DispatcherCookie = "jwt"
	DriverCookie     = "driver_jwt"

	dispatcherAudience = "dispatcher"
	driverAudience     = "driver"
)

// AccountStore resolves the account a token was issued to.
type AccountStore interface {
	UserByID(ctx context.Context, id uint) (*Models.User, error)
	DriverByID(ctx context.Context, id uint) (*Models.Driver, error)
}

type Auth struct {
	secret   []byte
	ttl      time.Duration
	accounts AccountStore
	now      func() time.Time
	logger   zerolog.Logger
}

func NewAuth(cfg Config.AuthConfig, accounts AccountStore, logger zerolog.Logger) *Auth {
	return &Auth{
		secret:   []byte(cfg.JWTSecret),
		ttl:      time.Duration(cfg.TokenTTLHours) * time.Hour,
		accounts: accounts,
		now:      time.Now,
		logger:   logger.With().Str("component", "auth").Logger(),
	}
}

// SignDispatcher signs a session cookie for a back-office user.
func (a *Auth) SignDispatcher(user Models.User) (*fiber.Cookie, error) {
	return a.cookie(DispatcherCookie, dispatcherAudience, user.ID)
}

// SignDriver signs a session cookie for a driver account.
func (a *Auth) SignDriver(driver Models.Driver) (*fiber.Cookie, error) {
	return a.cookie(DriverCookie, driverAudience, driver.ID)
}

// ExpiredCookie clears the named session cookie.
func (a *Auth) ExpiredCookie(name string) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     name,
		Value:    "",
		Expires:  a.now().Add(-time.Hour),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}

func (a *Auth) cookie(name, audience string, id uint) (*fiber.Cookie, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatUint(uint64(id), 10),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &fiber.Cookie{
		Name:     name,
		Value:    token,
		Expires:  expires,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	}, nil
}

func (a *Auth) parse(raw, audience string) (uint, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return 0, err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !claims.VerifyAudience(audience, true) {
		return 0, errors.New("invalid token claims")
	}
	id, err := strconv.ParseUint(claims.Issuer, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token issuer: %w", err)
	}
	return uint(id), nil
}

// Verify admits back-office users. With requiredPermission 0 any non-zero
// permission passes; otherwise the user's level must reach it.
func (a *Auth) Verify(requiredPermission int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cookie := c.Cookies(DispatcherCookie)
		if cookie == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Not Logged In.",
			})
		}

		id, err := a.parse(cookie, dispatcherAudience)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Invalid or expired token",
			})
		}

		user, err := a.accounts.UserByID(c.UserContext(), id)
		if err != nil {
			a.logger.Debug().Err(err).Uint("user_id", id).Msg("token for unknown user")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "User not found",
			})
		}
		c.Locals("user", *user)

		if requiredPermission == 0 {
			if user.Permission != 0 {
				return c.Next()
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"message": "You do not have permission to access this page",
			})
		}
		if user.Permission >= requiredPermission {
			return c.Next()
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "Insufficient permissions to access this resource",
		})
	}
}

// VerifyDriver admits signed-in, active driver accounts.
func (a *Auth) VerifyDriver() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cookie := c.Cookies(DriverCookie)
		if cookie == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Not Logged In.",
			})
		}

		id, err := a.parse(cookie, driverAudience)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Invalid or expired token",
			})
		}

		driver, err := a.accounts.DriverByID(c.UserContext(), id)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Driver not found",
			})
		}
		if !driver.Active {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"message": "Driver account is inactive",
			})
		}
		c.Locals("driver", *driver)
		return c.Next()
	}
}

func CurrentUser(c *fiber.Ctx) (Models.User, bool) {
	user, ok := c.Locals("user").(Models.User)
	return user, ok
}

func CurrentDriver(c *fiber.Ctx) (Models.Driver, bool) {
	driver, ok := c.Locals("driver").(Models.Driver)
	return driver, ok
}
