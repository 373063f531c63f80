package Inbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"AcesFuel/Models"
	"AcesFuel/Push"

	"github.com/rs/zerolog"
)

var ErrEmptyMessage = errors.New("title and message are required")

type Store interface {
	NotificationsForDriver(ctx context.Context, driverName string, limit int) ([]Models.DriverNotification, error)
	ReadNotificationIDs(ctx context.Context, driverName string, ids []uint) ([]uint, error)
	MarkNotificationsRead(ctx context.Context, driverName string, ids []uint) error
	CreateNotification(ctx context.Context, notification *Models.DriverNotification) error
	PushTokensForDriver(ctx context.Context, driverName string) ([]string, error)
	AllPushTokens(ctx context.Context) ([]string, error)
	DeletePushTokens(ctx context.Context, tokens []string) error
}

type Pusher interface {
	Send(ctx context.Context, tokens []string, msg Push.Message) (Push.Result, error)
}

type Item struct {
	Models.DriverNotification
	Read bool `json:"read"`
}

// Inbox is one driver's notification list.
type Inbox struct {
	Items  []Item `json:"items"`
	Unread int    `json:"unread"`
}

// Outgoing is a dispatcher message. A nil DriverName broadcasts.
type Outgoing struct {
	Title      string
	Message    string
	DriverName *string
	SentBy     string
	Path       string
}

type Service struct {
	store  Store
	pusher Pusher
	limit  int
	logger zerolog.Logger
}

func NewService(store Store, pusher Pusher, limit int, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		pusher: pusher,
		limit:  limit,
		logger: logger.With().Str("component", "inbox").Logger(),
	}
}

// Load returns the driver's broadcast and targeted messages, newest first.
// Read failures yield an empty inbox; a failed receipt lookup counts
// everything as unread.
func (s *Service) Load(ctx context.Context, driverName string) Inbox {
	notifications, err := s.store.NotificationsForDriver(ctx, driverName, s.limit)
	if err != nil {
		s.logger.Warn().Err(err).Str("driver", driverName).Msg("failed to load notifications")
		return Inbox{Items: []Item{}}
	}

	ids := make([]uint, 0, len(notifications))
	for _, n := range notifications {
		ids = append(ids, n.ID)
	}

	read := make(map[uint]bool)
	if len(ids) > 0 {
		readIDs, err := s.store.ReadNotificationIDs(ctx, driverName, ids)
		if err != nil {
			s.logger.Warn().Err(err).Str("driver", driverName).Msg("failed to load read receipts")
		}
		for _, id := range readIDs {
			read[id] = true
		}
	}

	inbox := Inbox{Items: make([]Item, 0, len(notifications))}
	for _, n := range notifications {
		item := Item{DriverNotification: n, Read: read[n.ID]}
		if !item.Read {
			inbox.Unread++
		}
		inbox.Items = append(inbox.Items, item)
	}
	return inbox
}

// MarkAllRead records receipts for every message currently in the driver's inbox.
func (s *Service) MarkAllRead(ctx context.Context, driverName string) (Inbox, error) {
	inbox := s.Load(ctx, driverName)
	var unread []uint
	for _, item := range inbox.Items {
		if !item.Read {
			unread = append(unread, item.ID)
		}
	}
	if len(unread) == 0 {
		return inbox, nil
	}
	if err := s.store.MarkNotificationsRead(ctx, driverName, unread); err != nil {
		s.logger.Error().Err(err).Str("driver", driverName).Msg("failed to mark notifications read")
		return inbox, fmt.Errorf("mark read: %w", err)
	}
	for i := range inbox.Items {
		inbox.Items[i].Read = true
	}
	inbox.Unread = 0
	return inbox, nil
}

// Send stores the message and pushes it to the recipients' devices. Push
// delivery problems are logged; the stored message stands.
func (s *Service) Send(ctx context.Context, out Outgoing) (*Models.DriverNotification, error) {
	title := strings.TrimSpace(out.Title)
	message := strings.TrimSpace(out.Message)
	if title == "" || message == "" {
		return nil, ErrEmptyMessage
	}

	notification := &Models.DriverNotification{
		Title:   title,
		Message: message,
		SentBy:  out.SentBy,
		Path:    out.Path,
	}
	if out.DriverName != nil && strings.TrimSpace(*out.DriverName) != "" {
		name := strings.TrimSpace(*out.DriverName)
		notification.DriverName = &name
	}
	if err := s.store.CreateNotification(ctx, notification); err != nil {
		s.logger.Error().Err(err).Msg("failed to store notification")
		return nil, fmt.Errorf("create notification: %w", err)
	}

	s.fanOut(ctx, notification)
	return notification, nil
}

func (s *Service) fanOut(ctx context.Context, notification *Models.DriverNotification) {
	if s.pusher == nil {
		return
	}

	var (
		tokens []string
		err    error
	)
	if notification.DriverName != nil {
		tokens, err = s.store.PushTokensForDriver(ctx, *notification.DriverName)
	} else {
		tokens, err = s.store.AllPushTokens(ctx)
	}
	if err != nil {
		s.logger.Warn().Err(err).Uint("notification_id", notification.ID).Msg("failed to load push tokens")
		return
	}

	path := notification.Path
	if path == "" {
		path = "/driver"
	}
	result, err := s.pusher.Send(ctx, tokens, Push.Message{
		Title: notification.Title,
		Body:  notification.Message,
		Path:  path,
		Data:  map[string]string{"notification_id": strconv.FormatUint(uint64(notification.ID), 10)},
	})
	if err != nil {
		s.logger.Warn().Err(err).Uint("notification_id", notification.ID).Msg("failed to push notification")
		return
	}
	if len(result.StaleTokens) > 0 {
		if err := s.store.DeletePushTokens(ctx, result.StaleTokens); err != nil {
			s.logger.Warn().Err(err).Int("tokens", len(result.StaleTokens)).Msg("failed to prune stale push tokens")
		}
	}
}
