package FiberConfig

import (
	"fmt"
	"strings"

	"AcesFuel/Config"
	"AcesFuel/Controllers"
	"AcesFuel/Inbox"
	"AcesFuel/Metrics"
	"AcesFuel/Push"
	"AcesFuel/Store"
	"AcesFuel/Tasks"
	"AcesFuel/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps are the long-lived services the HTTP layer fronts.
type Deps struct {
	Config   *Config.Config
	Logger   zerolog.Logger
	Store    *Store.Gorm
	Sessions *Tasks.Registry
	Bindings *Push.Bindings
	Board    *Tasks.Board
	Inbox    *Inbox.Service
}

// New builds the fiber app with its middleware stack and every route.
func New(deps Deps) *fiber.App {
	cfg := deps.Config
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		BodyLimit:             (cfg.Storage.MaxUploadMB + 2) * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(deps.Logger, "/health", "/metrics"))
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           300,
	}))

	SetupRoutes(app, deps)
	return app
}

func SetupRoutes(app *fiber.App, deps Deps) {
	cfg := deps.Config
	auth := middleware.NewAuth(cfg.Auth, deps.Store, deps.Logger)
	validator := Controllers.NewValidator()

	authHandler := Controllers.NewAuthHandler(deps.Store, auth, deps.Sessions, deps.Bindings, validator, deps.Logger)
	driverTaskHandler := Controllers.NewDriverTaskHandler(deps.Sessions, deps.Bindings, validator, cfg.Storage.MaxUploadBytes(), deps.Logger)
	notificationHandler := Controllers.NewNotificationHandler(deps.Inbox, deps.Bindings, validator, deps.Logger)
	missionHandler := Controllers.NewMissionHandler(deps.Board, validator, cfg.Server.Location(), deps.Logger)
	logHandler := Controllers.NewLogHandler(requestLogPath(cfg.Logging), cfg.Server.Location(), deps.Logger)

	Metrics.Register()
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": cfg.App.Version})
	})
	if cfg.Storage.Backend == "local" {
		app.Static("/uploads", cfg.Storage.LocalDir)
	}

	api := app.Group("/api")

	// Dispatcher accounts
	api.Post("/Login", authHandler.Login)
	api.Post("/Logout", authHandler.Logout)
	api.Get("/User", auth.Verify(0), authHandler.User)

	// Driver app
	driverAuth := auth.VerifyDriver()
	driver := api.Group("/driver")
	driver.Post("/login", authHandler.DriverLogin)
	driver.Post("/logout", driverAuth, authHandler.DriverLogout)
	driver.Get("/me", driverAuth, authHandler.DriverMe)

	driver.Get("/tasks", driverAuth, driverTaskHandler.GetTasks)
	driver.Post("/tasks/:id/start", driverAuth, driverTaskHandler.StartTask)
	driver.Post("/tasks/:id/complete", driverAuth, driverTaskHandler.OpenCompletion)
	driver.Get("/tasks/:id/directions", driverAuth, driverTaskHandler.Directions)

	driver.Get("/completion", driverAuth, driverTaskHandler.GetCompletion)
	driver.Patch("/completion", driverAuth, driverTaskHandler.UpdateCompletion)
	driver.Delete("/completion", driverAuth, driverTaskHandler.CancelCompletion)
	driver.Post("/completion/images", driverAuth, driverTaskHandler.UploadImages)
	driver.Post("/completion/images/:slot", driverAuth, driverTaskHandler.UploadImage)
	driver.Post("/completion/submit", driverAuth, driverTaskHandler.SubmitCompletion)

	driver.Get("/notifications", driverAuth, notificationHandler.GetNotifications)
	driver.Post("/notifications/read", driverAuth, notificationHandler.MarkAllRead)
	driver.Post("/push/register", driverAuth, notificationHandler.RegisterPush)
	driver.Post("/push/tap", driverAuth, notificationHandler.ResolveTap)

	// Dispatcher board
	dispatch := api.Group("/dispatch", auth.Verify(1))
	dispatch.Get("/missions", missionHandler.GetMissions)
	dispatch.Post("/missions", missionHandler.CreateMission)
	dispatch.Get("/missions/import/template", missionHandler.ImportTemplate)
	dispatch.Post("/missions/import", missionHandler.ImportMissions)
	dispatch.Patch("/missions/:id/admin-status", missionHandler.SetAdminStatus)
	dispatch.Delete("/missions/:id", auth.Verify(3), missionHandler.DeleteMission)
	dispatch.Post("/notifications", notificationHandler.SendNotification)

	// Logs routes
	api.Get("/logs", auth.Verify(4), logHandler.GetLogs)
	api.Get("/logs/stats", auth.Verify(4), logHandler.GetLogStats)
}

// requestLogPath is empty unless request lines land in a JSON file.
func requestLogPath(cfg Config.LoggingConfig) string {
	if !strings.EqualFold(strings.TrimSpace(cfg.Output), "file") || strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		return ""
	}
	return cfg.FilePath
}

func Address(cfg Config.ServerConfig) string {
	return fmt.Sprintf(":%d", cfg.Port)
}
