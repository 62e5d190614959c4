package notify

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	titles   []string
	messages []string
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return nil
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func newAlertsFixture(events []string) (*Alerts, *recordingSender) {
	sender := &recordingSender{}
	logger := slog.New(slog.DiscardHandler)
	notifier := NewNotifier([]Sender{sender}, events, logger)
	return NewAlerts(notifier, nil, logger), sender
}

func TestHandleFormatsTradeExecuted(t *testing.T) {
	alerts, sender := newAlertsFixture(nil)

	alerts.handle(context.Background(), []byte(`{"event":"trade_executed","trade_id":42,"strategy":"stop_loss","amount_out":"1990000000"}`))

	titles := sender.sent()
	require.Len(t, titles, 1)
	assert.Equal(t, "Order settled", titles[0])
	assert.Contains(t, sender.messages[0], "trade_id: 42")
	assert.Contains(t, sender.messages[0], "amount_out: 1990000000")
}

func TestHandleFiltersDisallowedEvents(t *testing.T) {
	alerts, sender := newAlertsFixture([]string{"trade_expired"})

	alerts.handle(context.Background(), []byte(`{"event":"trade_created","trade_id":1}`))
	alerts.handle(context.Background(), []byte(`{"event":"trade_expired","trade_id":2}`))

	titles := sender.sent()
	require.Len(t, titles, 1)
	assert.Equal(t, "Order expired", titles[0])
}

func TestHandleIgnoresMalformedPayloads(t *testing.T) {
	alerts, sender := newAlertsFixture(nil)

	alerts.handle(context.Background(), []byte(`not json`))
	alerts.handle(context.Background(), []byte(`{"no_event":true}`))

	assert.Empty(t, sender.sent())
}

func TestFormatEventUnknownTypePassesThrough(t *testing.T) {
	title, _ := formatEvent("custom_event", map[string]any{})
	assert.Equal(t, "custom_event", title)
}
