package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AcesFuel/Config"
	"AcesFuel/CronJobs"
	"AcesFuel/FiberConfig"
	"AcesFuel/Firebase"
	"AcesFuel/Inbox"
	"AcesFuel/Logging"
	"AcesFuel/Models"
	"AcesFuel/Push"
	"AcesFuel/Slack"
	"AcesFuel/Storage"
	"AcesFuel/Store"
	"AcesFuel/Tasks"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := Config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger, closer, err := Logging.New(cfg.Logging, cfg.App)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	if closer != nil {
		defer closer.Close()
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *Config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := Models.Connect(cfg.Database)
	if err != nil {
		return err
	}
	store := Store.NewGorm(db)

	app, err := Firebase.NewApp(ctx, cfg.Firebase, cfg.Storage.Bucket)
	if err != nil {
		return err
	}
	uploader, err := Storage.New(ctx, cfg.Storage, app)
	if err != nil {
		return err
	}
	sender, err := Push.NewFirebaseSender(ctx, app, logger)
	if err != nil {
		return err
	}

	notifier := Slack.NewNotifier(cfg.Slack, logger)
	sessions := Tasks.NewRegistry(Tasks.Deps{
		Store:          store,
		Sites:          store,
		Uploader:       uploader,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes(),
		Clock:          time.Now,
		Logger:         logger,
		OnComplete:     notifier.TaskCompleted,
	})
	board := Tasks.NewBoard(store, logger)
	board.Load(ctx)

	if cfg.Reminders.Enabled {
		summary := func(ctx context.Context, at time.Time) error {
			board.Load(ctx)
			return notifier.PostSummary(ctx, board.CountsByAdminStatus(), at)
		}
		reminder := CronJobs.NewTaskReminder(cfg.Reminders.Schedule, store, sender, summary, cfg.Server.Location(), logger)
		if err := reminder.Start(); err != nil {
			return err
		}
		defer reminder.Stop()
	}

	server := FiberConfig.New(FiberConfig.Deps{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Sessions: sessions,
		Bindings: Push.NewBindings(store, logger),
		Board:    board,
		Inbox:    Inbox.NewService(store, sender, cfg.Notifications.InboxLimit, logger),
	})

	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	logger.Info().Int("port", cfg.Server.Port).Str("storage", cfg.Storage.Backend).Bool("push", sender.Enabled()).Msg("server up")
	return server.Listen(FiberConfig.Address(cfg.Server))
}
