package Slack

import (
	"context"
	"fmt"
	"strings"
	"time"

	"AcesFuel/Config"
	"AcesFuel/Models"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// Notifier posts dispatcher-facing updates to one Slack channel. A notifier
// without a token or channel is a no-op.
type Notifier struct {
	client  *slack.Client
	channel string
	logger  zerolog.Logger
}

func NewNotifier(cfg Config.SlackConfig, logger zerolog.Logger, options ...slack.Option) *Notifier {
	n := &Notifier{
		channel: strings.TrimSpace(cfg.ChannelID),
		logger:  logger.With().Str("component", "slack").Logger(),
	}
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" || n.channel == "" {
		n.logger.Info().Msg("slack notifier disabled")
		return n
	}
	options = append([]slack.Option{slack.OptionDebug(false)}, options...)
	n.client = slack.New(token, options...)
	return n
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.client != nil
}

// TaskCompleted announces a driver submission. Failures are logged only; the
// completion itself is already stored.
func (n *Notifier) TaskCompleted(ctx context.Context, task Models.Task, entry Models.TaskEntry) {
	if !n.Enabled() {
		return
	}
	if err := n.post(ctx, CompletionMessage(task, entry)); err != nil {
		n.logger.Warn().Err(err).Uint("task_id", task.ID).Msg("failed to post completion")
	}
}

// PostSummary sends the admin-status breakdown of the dispatch board.
func (n *Notifier) PostSummary(ctx context.Context, counts map[Models.AdminStatus]int, at time.Time) error {
	if !n.Enabled() {
		return nil
	}
	return n.post(ctx, SummaryMessage(counts, at))
}

func (n *Notifier) post(ctx context.Context, text string) error {
	_, ts, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post to %s: %w", n.channel, err)
	}
	n.logger.Debug().Str("ts", ts).Msg("posted slack message")
	return nil
}

func CompletionMessage(task Models.Task, entry Models.TaskEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *Task #%d completed*\n", getStatusEmoji(task.Status), task.ID)
	fmt.Fprintf(&b, "Site: %s\n", orDash(task.SiteName))
	fmt.Fprintf(&b, "Driver: %s\n", orDash(task.DriverName))
	fmt.Fprintf(&b, "Liters added: %.2f\n", entry.Liters)
	if entry.ActualInTank != nil {
		fmt.Fprintf(&b, "In tank: %.2f\n", *entry.ActualInTank)
	}
	if entry.ReceiptNumber != nil {
		fmt.Fprintf(&b, "Receipt: %s\n", *entry.ReceiptNumber)
	}
	photos := 0
	for _, url := range []*string{entry.CounterBeforeURL, entry.TankBeforeURL, entry.CounterAfterURL, entry.TankAfterURL} {
		if url != nil && *url != "" {
			photos++
		}
	}
	fmt.Fprintf(&b, "Photos: %d/4", photos)
	if notes := strings.TrimSpace(task.Notes); notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s", notes)
	}
	return b.String()
}

func SummaryMessage(counts map[Models.AdminStatus]int, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Driver task board* (%s)\n", at.Format("2006-01-02 15:04"))
	total := 0
	for _, status := range Models.AdminStatuses {
		fmt.Fprintf(&b, "• %s: %d\n", status, counts[status])
		total += counts[status]
	}
	fmt.Fprintf(&b, "Total: %d", total)
	return b.String()
}

func getStatusEmoji(status Models.ExecutionStatus) string {
	switch status {
	case Models.StatusCompleted:
		return ":white_check_mark:"
	case Models.StatusInProgress:
		return ":fuelpump:"
	case Models.StatusIssue, Models.StatusFailed:
		return ":warning:"
	default:
		return ":clipboard:"
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
