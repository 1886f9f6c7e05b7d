package notify

import (
	"context"

	"github.com/aristath/slimwatch/internal/domain"
)

// Router splits notifications across channels by alert type: market
// regime updates go to the market channel, everything else to the alerts
// channel. A nil market channel falls back to alerts.
type Router struct {
	alerts domain.Notifier
	market domain.Notifier
}

// NewRouter creates a router over the two channels.
func NewRouter(alerts, market domain.Notifier) *Router {
	return &Router{alerts: alerts, market: market}
}

// Name identifies the delivery channel on receipts.
func (r *Router) Name() string {
	return "discord"
}

// Notify forwards the notification to the channel for its alert type.
func (r *Router) Notify(ctx context.Context, n domain.Notification) error {
	if n.AlertType == domain.AlertTypeMarket && r.market != nil {
		return r.market.Notify(ctx, n)
	}
	return r.alerts.Notify(ctx, n)
}
