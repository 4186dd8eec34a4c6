package services

import (
	"context"

	"github.com/ayeremenko/visa-tracker/shared"
	"github.com/ayeremenko/visa-tracker/telegram"
	"github.com/sirupsen/logrus"
)

// ChatTransport is the outbound half of the chat collaborator. The Telegram
// client satisfies it in production; tests substitute an in-memory fake.
type ChatTransport interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) (int, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string, keyboard *telegram.InlineKeyboardMarkup) error
}

// Notifier delivers text+keyboard payloads best-effort. Delivery failures are
// logged and reported as a nil message id, never raised to callers.
type Notifier struct {
	transport ChatTransport
	metrics   *shared.EngineMetrics
}

// NewNotifier creates a dispatcher over the given transport.
func NewNotifier(transport ChatTransport, metrics *shared.EngineMetrics) *Notifier {
	return &Notifier{
		transport: transport,
		metrics:   metrics,
	}
}

// SendOrEdit edits the message with the supplied id when possible, falling
// back to sending a new message on any edit failure (message deleted, too
// old, wrong chat). Returns the id of the message now carrying the payload,
// or nil when delivery failed entirely.
func (n *Notifier) SendOrEdit(ctx context.Context, chatID int64, messageID *int, text string, keyboard *telegram.InlineKeyboardMarkup) *int {
	if messageID != nil {
		if err := n.transport.EditMessageText(ctx, chatID, *messageID, text, keyboard); err == nil {
			n.metrics.RecordNotification(true)
			return messageID
		} else {
			logrus.WithFields(logrus.Fields{
				"component":  "Notifier",
				"chat_id":    chatID,
				"message_id": *messageID,
			}).WithError(err).Debug("Edit failed, falling back to new message")
		}
	}

	sentID, err := n.transport.SendMessage(ctx, chatID, text, keyboard)
	if err != nil {
		n.metrics.RecordNotification(false)
		logrus.WithFields(logrus.Fields{
			"component": "Notifier",
			"chat_id":   chatID,
		}).WithError(err).Warn("Failed to deliver notification")
		return nil
	}
	n.metrics.RecordNotification(true)
	return &sentID
}

// Send delivers a new message, returning nil on failure.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) *int {
	return n.SendOrEdit(ctx, chatID, nil, text, keyboard)
}
