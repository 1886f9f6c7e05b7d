package domain

import (
	"context"
	"time"
)

// RealtimeQuoteProvider serves live quotes during market hours. Off-hours
// the provider may have nothing; callers must tolerate ErrNoQuote.
type RealtimeQuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	IsConnected() bool
}

// HistoricalBarsProvider serves daily OHLCV history and earnings dates.
// Implementations are rate-limited; calls are paced internally, so a
// single DailyBars call may block for the pacing delay.
type HistoricalBarsProvider interface {
	DailyBars(ctx context.Context, symbol string, end time.Time, lookbackDays int) ([]Bar, error)
	NextEarningsDate(ctx context.Context, symbol string) (*time.Time, error)
}

// SentimentProvider serves the fear-and-greed feed.
type SentimentProvider interface {
	Current(ctx context.Context) (*FearGreed, error)
	Historical(ctx context.Context, days int) ([]FearGreed, error)
}

// Notifier delivers one alert payload to an external channel. The alert is
// already persisted when Notify is called; delivery failures are logged and
// recorded, never retried inline.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Name() string
}

// Notification is the structured payload handed to notifiers.
type Notification struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Symbol    string    `json:"symbol"`
	AlertType string    `json:"alert_type"`
	Subtype   string    `json:"alert_subtype"`
	Price     float64   `json:"price"`
	Time      time.Time `json:"time"`
}
