package events

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusSubscribeAndEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var received []*Event
	bus.Subscribe(BreakoutDetected, func(e *Event) {
		received = append(received, e)
	})

	bus.Emit(BreakoutDetected, "breakout_worker", map[string]interface{}{
		"symbol": "NVDA",
		"price":  950.25,
		"pivot":  940.0,
		"zone":   "IN_BUY_ZONE",
	})

	require.Len(t, received, 1)
	assert.Equal(t, BreakoutDetected, received[0].Type)
	assert.Equal(t, "breakout_worker", received[0].Module)
	assert.Equal(t, "NVDA", received[0].Data["symbol"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestBusOnlyMatchingTypeDelivered(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	breakouts := 0
	regimes := 0
	bus.Subscribe(BreakoutDetected, func(e *Event) { breakouts++ })
	bus.Subscribe(RegimeChanged, func(e *Event) { regimes++ })

	bus.Emit(RegimeChanged, "market_worker", map[string]interface{}{"from": "NEUTRAL", "to": "BEARISH"})
	bus.Emit(RegimeChanged, "market_worker", map[string]interface{}{"from": "BEARISH", "to": "NEUTRAL"})

	assert.Equal(t, 0, breakouts)
	assert.Equal(t, 2, regimes)
}

func TestBusHandlerPanicDoesNotPropagate(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	bus.Subscribe(AlertCreated, func(e *Event) { panic("boom") })

	delivered := false
	bus.Subscribe(AlertCreated, func(e *Event) { delivered = true })

	assert.NotPanics(t, func() {
		bus.Emit(AlertCreated, "alerts", map[string]interface{}{"symbol": "AAPL"})
	})
	assert.True(t, delivered, "second handler should still run after first panics")
}

func TestEmitDataRoundTrip(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got *Event
	bus.Subscribe(RegimeChanged, func(e *Event) { got = e })

	bus.EmitData("regime", &RegimeChangedData{
		From:      "NEUTRAL",
		To:        "BULLISH",
		Composite: 0.85,
		DDayCount: 1,
		FTDPhase:  "CONFIRMED_UPTREND",
	})

	require.NotNil(t, got)
	assert.Equal(t, RegimeChanged, got.Type)
	assert.Equal(t, "regime", got.Module)
	assert.Equal(t, "BULLISH", got.Data["to"], "map keys follow the json tags")

	typed := got.GetTypedData()
	require.NotNil(t, typed)
	data, ok := typed.(*RegimeChangedData)
	require.True(t, ok)
	assert.Equal(t, "BULLISH", data.To)
	assert.InDelta(t, 0.85, data.Composite, 1e-9)
	assert.Equal(t, 1, data.DDayCount)
}

func TestEmitDataError(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	bus.EmitData("position_worker", &ErrorEventData{
		Error:   errors.New("quote fetch failed").Error(),
		Context: map[string]interface{}{"symbol": "TSLA"},
	})

	require.NotNil(t, got)
	data, ok := got.GetTypedData().(*ErrorEventData)
	require.True(t, ok)
	assert.Equal(t, "quote fetch failed", data.Error)
	assert.Equal(t, "TSLA", data.Context["symbol"])
}

func TestSubscriberCounting(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	assert.Equal(t, 0, bus.subscriberCount(AlertCreated))

	bus.Subscribe(AlertCreated, func(e *Event) {})
	bus.Subscribe(AlertCreated, func(e *Event) {})
	assert.Equal(t, 2, bus.subscriberCount(AlertCreated))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	first := 0
	second := 0
	unsubscribe := bus.Subscribe(AlertCreated, func(e *Event) { first++ })
	bus.Subscribe(AlertCreated, func(e *Event) { second++ })

	bus.Emit(AlertCreated, "alerts", nil)
	unsubscribe()
	bus.Emit(AlertCreated, "alerts", nil)

	assert.Equal(t, 1, first, "removed handler must not see the second event")
	assert.Equal(t, 2, second)
	assert.Equal(t, 1, bus.subscriberCount(AlertCreated))

	// Unsubscribing twice is harmless.
	assert.NotPanics(t, unsubscribe)
}
