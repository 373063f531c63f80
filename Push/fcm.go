package Push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
)

const (
	AndroidChannel = "driver-updates"
	multicastLimit = 500
)

// Messenger is the slice of the FCM client the sender needs.
type Messenger interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Message is an outgoing driver notification.
type Message struct {
	Title string
	Body  string
	Path  string
	Data  map[string]string
}

// Result summarizes a fan-out. Stale tokens were rejected by FCM as unregistered.
type Result struct {
	Sent        int
	Failed      int
	StaleTokens []string
}

// Sender delivers notifications over Firebase Cloud Messaging. A nil client
// turns every send into a no-op.
type Sender struct {
	client Messenger
	logger zerolog.Logger
}

func NewSender(client Messenger, logger zerolog.Logger) *Sender {
	return &Sender{client: client, logger: logger.With().Str("component", "fcm").Logger()}
}

// NewFirebaseSender builds a sender from an initialized Firebase app.
func NewFirebaseSender(ctx context.Context, app *firebase.App, logger zerolog.Logger) (*Sender, error) {
	if app == nil {
		return NewSender(nil, logger), nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Messaging client: %w", err)
	}
	return NewSender(client, logger), nil
}

func (s *Sender) Enabled() bool {
	return s != nil && s.client != nil
}

// Send fans msg out to tokens in batches of at most 500.
func (s *Sender) Send(ctx context.Context, tokens []string, msg Message) (Result, error) {
	var result Result
	if !s.Enabled() || len(tokens) == 0 {
		return result, nil
	}

	for start := 0; start < len(tokens); start += multicastLimit {
		end := start + multicastLimit
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]

		response, err := s.client.SendEachForMulticast(ctx, buildMulticast(batch, msg))
		if err != nil {
			return result, fmt.Errorf("error sending Firebase message: %w", err)
		}
		result.Sent += response.SuccessCount
		result.Failed += response.FailureCount
		for i, r := range response.Responses {
			if r == nil || r.Success || i >= len(batch) {
				continue
			}
			if messaging.IsUnregistered(r.Error) {
				result.StaleTokens = append(result.StaleTokens, batch[i])
			}
		}
	}

	s.logger.Info().
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Int("stale", len(result.StaleTokens)).
		Str("title", msg.Title).
		Msg("push notification sent")
	return result, nil
}

func buildMulticast(tokens []string, msg Message) *messaging.MulticastMessage {
	data := make(map[string]string, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	if msg.Path != "" {
		data["path"] = msg.Path
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: AndroidChannel,
				Sound:     "default",
			},
		},
	}
}
