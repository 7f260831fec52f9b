package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/sentio-go/internal/telemetry"
)

// ErrTelegramDisabled is returned when the bot token or chat id is missing
var ErrTelegramDisabled = errors.New("telegram notifications not configured")

// messageSender is the part of *bot.Bot the notifier uses
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramNotifier posts alerts to a single operator chat.
type TelegramNotifier struct {
	sender messageSender
	chatID int64
	tracer *telemetry.BusinessTracer
	logger *logrus.Logger
}

// NewTelegramNotifier creates a notifier for the given bot token and chat.
func NewTelegramNotifier(token string, chatID int64, logger *logrus.Logger) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, ErrTelegramDisabled
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return newTelegramNotifier(b, chatID, logger), nil
}

func newTelegramNotifier(sender messageSender, chatID int64, logger *logrus.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender: sender,
		chatID: chatID,
		tracer: telemetry.NewBusinessTracer(),
		logger: logger,
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, alert Alert) error {
	ctx, span := n.tracer.TraceNotification(ctx, string(alert.Type), "telegram")
	defer span.End()

	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   Format(alert),
	})
	n.tracer.RecordNotificationResult(ctx, span, "telegram", err)
	if err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"alert_type": string(alert.Type),
			"symbol":     alert.Symbol,
		}).Warn("Failed to send telegram alert")
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
