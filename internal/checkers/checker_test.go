package checkers

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/slimwatch/internal/domain"
)

func fp(v float64) *float64 { return &v }

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// holdCtx returns a healthy held-position snapshot tests mutate per case.
func holdCtx(state domain.PositionState) *domain.PositionContext {
	entry := day("2024-02-01")
	return &domain.PositionContext{
		Symbol:        "NVDA",
		PositionID:    1,
		State:         state,
		Grade:         "A",
		Score:         18,
		MarketRegime:  "BULLISH",
		CurrentPrice:  110,
		AvgCost:       100,
		Pivot:         98,
		OriginalPivot: 98,
		StopPrice:     93,
		TP1Target:     120,
		TP2Target:     125,
		PnLPct:        10,
		RunningHigh:   112,
		RSRating:      90,
		EntryDate:     &entry,
		Now:           day("2024-03-01"),
	}
}

// watchCtx returns an unentered watch-item snapshot.
func watchCtx() *domain.PositionContext {
	return &domain.PositionContext{
		Symbol:        "PLTR",
		PositionID:    2,
		State:         domain.StateWatching,
		Grade:         "A",
		MarketRegime:  "BULLISH",
		CurrentPrice:  95,
		Pivot:         100,
		OriginalPivot: 100,
		RSRating:      92,
		Now:           day("2024-03-01"),
	}
}

type stubChecker struct {
	name   string
	alerts []domain.AlertData
	panics bool
	calls  int
}

func (s *stubChecker) Name() string { return s.name }

func (s *stubChecker) Check(ctx *domain.PositionContext) []domain.AlertData {
	s.calls++
	if s.panics {
		panic("boom")
	}
	return s.alerts
}

func stubAlert(subtype string) domain.AlertData {
	return domain.AlertData{
		Symbol:  "NVDA",
		Type:    domain.AlertTypeStop,
		Subtype: subtype,
		Message: "stub",
	}
}

func TestSuiteRecoversFromPanickingChecker(t *testing.T) {
	bad := &stubChecker{name: "bad", panics: true}
	good := &stubChecker{name: "good", alerts: []domain.AlertData{stubAlert(domain.SubtypeHardStop)}}
	suite := NewSuite(zerolog.Nop(), 0, bad, good)

	out := suite.Run(holdCtx(domain.StateEntered))

	require.Len(t, out, 1)
	assert.Equal(t, domain.SubtypeHardStop, out[0].Subtype)
	assert.Equal(t, 1, bad.calls)
}

func TestSuiteAdvisoryCooldown(t *testing.T) {
	stub := &stubChecker{name: "stub", alerts: []domain.AlertData{stubAlert(domain.SubtypeHardStop)}}
	suite := NewSuite(zerolog.Nop(), 5*time.Minute, stub)

	ctx := holdCtx(domain.StateEntered)
	assert.Len(t, suite.Run(ctx), 1)
	assert.Empty(t, suite.Run(ctx), "repeat inside the ttl should be suppressed")

	ctx.Now = ctx.Now.Add(6 * time.Minute)
	assert.Len(t, suite.Run(ctx), 1, "fires again once the ttl lapses")
}

func TestSuiteCooldownKeysBySubtype(t *testing.T) {
	stub := &stubChecker{name: "stub", alerts: []domain.AlertData{
		stubAlert(domain.SubtypeHardStop),
		stubAlert(domain.SubtypeStopWarning),
	}}
	suite := NewSuite(zerolog.Nop(), 5*time.Minute, stub)

	out := suite.Run(holdCtx(domain.StateEntered))
	assert.Len(t, out, 2, "different subtypes do not share a cooldown slot")
}

func TestSuiteStatusModeBypassesCooldown(t *testing.T) {
	stub := &stubChecker{name: "stub", alerts: []domain.AlertData{stubAlert(domain.SubtypeHardStop)}}
	suite := NewSuite(zerolog.Nop(), 5*time.Minute, stub)

	ctx := holdCtx(domain.StateEntered)
	assert.Len(t, suite.Run(ctx), 1)

	assert.Len(t, suite.RunStatus(ctx), 1, "status reads ignore the cooldown")
	assert.Len(t, suite.RunStatus(ctx), 1, "status reads do not consume it either")

	assert.Empty(t, suite.Run(ctx), "the original suppression still stands")
}

func TestSuiteZeroTTLDisablesCooldown(t *testing.T) {
	stub := &stubChecker{name: "stub", alerts: []domain.AlertData{stubAlert(domain.SubtypeHardStop)}}
	suite := NewSuite(zerolog.Nop(), 0, stub)

	ctx := holdCtx(domain.StateEntered)
	assert.Len(t, suite.Run(ctx), 1)
	assert.Len(t, suite.Run(ctx), 1)
}
