// Package notification delivers trading alerts to operators.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/irfndi/sentio-go/internal/models"
)

// AlertType classifies an alert
type AlertType string

const (
	AlertCircuitBreaker AlertType = "circuit_breaker"
	AlertOrderFilled    AlertType = "order_filled"
	AlertOrderRejected  AlertType = "order_rejected"
	AlertPositionClosed AlertType = "position_closed"
)

// Alert is one operator notification
type Alert struct {
	Type       AlertType         `json:"type"`
	Symbol     string            `json:"symbol,omitempty"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	Strategies []string          `json:"strategies,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Notifier delivers alerts
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

var titleCaser = cases.Title(language.English)

// StrategyLabel renders a strategy id like "mean_reversion" as "Mean Reversion".
func StrategyLabel(name string) string {
	return titleCaser.String(strings.ReplaceAll(name, "_", " "))
}

// Format renders an alert as plain text.
func Format(alert Alert) string {
	var b strings.Builder
	b.WriteString(alert.Title)
	if alert.Symbol != "" {
		fmt.Fprintf(&b, " [%s]", alert.Symbol)
	}
	if alert.Message != "" {
		b.WriteString("\n")
		b.WriteString(alert.Message)
	}

	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", StrategyLabel(k), alert.Fields[k])
	}

	if len(alert.Strategies) > 0 {
		labels := make([]string, len(alert.Strategies))
		for i, s := range alert.Strategies {
			labels[i] = StrategyLabel(s)
		}
		fmt.Fprintf(&b, "\nStrategies: %s", strings.Join(labels, ", "))
	}
	if !alert.Timestamp.IsZero() {
		fmt.Fprintf(&b, "\n%s", alert.Timestamp.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// LogNotifier writes alerts to the log. It is the fallback when no chat
// channel is configured.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	entry := n.logger.WithFields(logrus.Fields{
		"alert_type": string(alert.Type),
		"symbol":     alert.Symbol,
		"title":      alert.Title,
	})
	for k, v := range alert.Fields {
		entry = entry.WithField(k, v)
	}
	if alert.Type == AlertCircuitBreaker || alert.Type == AlertOrderRejected {
		entry.Warn(alert.Message)
	} else {
		entry.Info(alert.Message)
	}
	return nil
}

// MultiNotifier fans an alert out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BreakerAlert describes a daily loss breaker transition.
func BreakerAlert(from, to models.CircuitBreakerState, lossFraction float64, at time.Time) Alert {
	return Alert{
		Type:    AlertCircuitBreaker,
		Title:   "Circuit breaker " + to.String(),
		Message: fmt.Sprintf("Daily loss breaker moved from %s to %s", from, to),
		Fields: map[string]string{
			"daily_loss": fmt.Sprintf("%.2f%%", lossFraction*100),
		},
		Timestamp: at,
	}
}

// OrderAlert describes a filled, pending or rejected order.
func OrderAlert(order models.Order, strategies []string) Alert {
	alert := Alert{
		Type:       AlertOrderFilled,
		Symbol:     order.Symbol,
		Title:      fmt.Sprintf("%s order %s", order.Side, order.Status),
		Message:    fmt.Sprintf("%s %s @ %s (%s)", order.Side, order.Quantity.StringFixed(4), order.Price.StringFixed(4), order.Mode),
		Fields:     map[string]string{"value": order.Value.StringFixed(2)},
		Strategies: strategies,
		Timestamp:  order.CreatedAt,
	}
	if order.Status == models.OrderRejected {
		alert.Type = AlertOrderRejected
		alert.Fields["reason"] = order.Reason
	}
	return alert
}

// TradeAlert describes a closed position.
func TradeAlert(trade models.TradeRecord) Alert {
	return Alert{
		Type:    AlertPositionClosed,
		Symbol:  trade.Symbol,
		Title:   "Position closed",
		Message: fmt.Sprintf("%s %.4f from %.4f to %.4f", trade.Direction, trade.Quantity, trade.EntryPrice, trade.ExitPrice),
		Fields: map[string]string{
			"pnl":    fmt.Sprintf("%.2f", trade.PnL),
			"reason": trade.Reason,
		},
		Strategies: trade.Strategies,
		Timestamp:  trade.Timestamp,
	}
}
