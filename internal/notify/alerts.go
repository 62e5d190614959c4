package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"stratvault/internal/domain"
)

// busChannels are the signal bus channels the alert consumer watches.
var busChannels = []string{"trades", "swaps", "bridges"}

// Alerts consumes order lifecycle events from the signal bus and forwards
// human-readable notifications. Event payloads are the JSON envelopes the
// ledger and gateways publish.
type Alerts struct {
	notifier *Notifier
	bus      domain.SignalBus
	logger   *slog.Logger
}

// NewAlerts creates an alert consumer over the given bus and notifier.
func NewAlerts(notifier *Notifier, bus domain.SignalBus, logger *slog.Logger) *Alerts {
	return &Alerts{
		notifier: notifier,
		bus:      bus,
		logger:   logger.With(slog.String("component", "alerts")),
	}
}

// Run subscribes to the lifecycle channels and blocks until ctx is cancelled.
func (a *Alerts) Run(ctx context.Context) error {
	for _, ch := range busChannels {
		msgCh, err := a.bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", ch, err)
		}
		go a.consume(ctx, ch, msgCh)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (a *Alerts) consume(ctx context.Context, channel string, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				a.logger.Warn("alert subscription closed", slog.String("channel", channel))
				return
			}
			a.handle(ctx, data)
		}
	}
}

// handle decodes one bus payload and dispatches it under its event type.
// Malformed payloads are dropped.
func (a *Alerts) handle(ctx context.Context, data []byte) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		a.logger.Warn("undecodable event payload", slog.String("error", err.Error()))
		return
	}

	event, _ := payload["event"].(string)
	if event == "" {
		return
	}

	title, message := formatEvent(event, payload)
	if err := a.notifier.Notify(ctx, event, title, message); err != nil {
		a.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// formatEvent renders an event payload as a notification title and body.
func formatEvent(event string, payload map[string]any) (string, string) {
	var title string
	switch event {
	case "trade_created":
		title = "Order created"
	case "trade_executed":
		title = "Order settled"
	case "trade_cancelled":
		title = "Order cancelled"
	case "trade_expired":
		title = "Order expired"
	case "dca_plan_created":
		title = "DCA plan created"
	case "dca_plan_cancelled":
		title = "DCA plan cancelled"
	case "dca_interval_executed":
		title = "DCA interval executed"
	case "swap_executed":
		title = "Swap executed"
	case "tokens_bridged":
		title = "Tokens bridged"
	case "tokens_received":
		title = "Bridge transfer received"
	default:
		title = event
	}

	message := ""
	for _, key := range []string{"trade_id", "plan_id", "trader", "strategy", "amount", "amount_in", "amount_out", "refunded", "chain_selector", "message_id"} {
		if v, ok := payload[key]; ok {
			message += fmt.Sprintf("%s: %v\n", key, v)
		}
	}
	return title, message
}
