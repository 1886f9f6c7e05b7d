package ibgw

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/slimwatch/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return NewClient("ws://localhost:4000/stream", 7, zerolog.Nop())
}

func TestHandleMessageCachesQuote(t *testing.T) {
	c := newTestClient(t)
	fixed := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	frame := []byte(`{"type":"tick","symbol":"NVDA","bid":99.95,"ask":100.05,"last":100.0,` +
		`"volume":1200000,"avg_volume_50d":900000,"ma_21":97.5,"ma_50":95.0}`)
	require.NoError(t, c.handleMessage(frame))

	q, err := c.GetQuote(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Last)
	assert.Equal(t, 99.95, q.Bid)
	assert.Equal(t, 900000.0, q.AvgVolume50D)
	require.NotNil(t, q.MA21)
	assert.Equal(t, 97.5, *q.MA21)
	assert.Nil(t, q.MA200)
	assert.Equal(t, fixed, q.Time)
}

func TestHandleMessagePrefersBridgeTimestamp(t *testing.T) {
	c := newTestClient(t)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC) }

	frame := []byte(`{"symbol":"AAPL","last":180.5,"ts":"2024-03-01T14:59:30Z"}`)
	require.NoError(t, c.handleMessage(frame))

	q, err := c.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 59, 30, 0, time.UTC), q.Time)
}

func TestHandleMessageDropsControlFrames(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.handleMessage([]byte(`{"type":"heartbeat"}`)))
	require.NoError(t, c.handleMessage([]byte(`{"type":"tick"}`))) // no symbol

	_, err := c.GetQuote(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrNoQuote)
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	c := newTestClient(t)
	assert.Error(t, c.handleMessage([]byte(`not json`)))
}

func TestGetQuoteStaleness(t *testing.T) {
	c := newTestClient(t)
	base := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	require.NoError(t, c.handleMessage([]byte(`{"symbol":"NVDA","last":100}`)))

	// Fresh within the threshold.
	c.now = func() time.Time { return base.Add(4 * time.Minute) }
	_, err := c.GetQuote(context.Background(), "NVDA")
	require.NoError(t, err)

	// Stale past it.
	c.now = func() time.Time { return base.Add(6 * time.Minute) }
	_, err = c.GetQuote(context.Background(), "NVDA")
	assert.ErrorIs(t, err, domain.ErrNoQuote)
}

func TestGetQuoteUnknownSymbol(t *testing.T) {
	c := newTestClient(t)
	_, err := c.GetQuote(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, domain.ErrNoQuote)
}

func TestGetQuoteHonorsContext(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetQuote(ctx, "NVDA")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, calculateBackoff(1))
	assert.Equal(t, 10*time.Second, calculateBackoff(2))
	assert.Equal(t, 40*time.Second, calculateBackoff(4))
	assert.Equal(t, 5*time.Minute, calculateBackoff(12), "capped at five minutes")
}

func TestIsConnectedDefaultsFalse(t *testing.T) {
	c := newTestClient(t)
	assert.False(t, c.IsConnected())
}

func TestSetSymbolsWhileDisconnected(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.SetSymbols([]string{"NVDA", "AAPL"}))
	assert.Equal(t, []string{"NVDA", "AAPL"}, c.symbols)
}
