package checkers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/slimwatch/internal/domain"
)

func TestMA50Rules(t *testing.T) {
	c := NewMAChecker(DefaultConfig())

	cases := []struct {
		name    string
		price   float64
		volume  *float64
		subtype string
	}{
		{"comfortably above", 105.0, fp(1.0), ""},
		{"close to the line from above", 101.0, fp(1.0), domain.SubtypeMA50Warning},
		{"exactly at the band edge", 102.0, fp(1.0), domain.SubtypeMA50Warning},
		{"below on heavy volume", 99.0, fp(1.5), domain.SubtypeMA50Sell},
		{"below on quiet volume", 99.0, fp(0.8), domain.SubtypeMA50Warning},
		{"below with unknown volume", 99.0, nil, domain.SubtypeMA50Warning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := holdCtx(domain.StateEntered)
			ctx.MA50 = fp(100)
			ctx.CurrentPrice = tc.price
			ctx.VolumeRatio = tc.volume

			got := c.Check(ctx)
			if tc.subtype == "" {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, domain.AlertTypeTechnical, got[0].Type)
			assert.Equal(t, tc.subtype, got[0].Subtype)
		})
	}
}

func TestEMA21SellNeedsConsecutiveSessions(t *testing.T) {
	c := NewMAChecker(DefaultConfig())

	cases := []struct {
		name  string
		price float64
		count int
		want  bool
	}{
		{"three sessions below", 99, 3, true},
		{"many sessions below", 98, 6, true},
		{"only two sessions", 99, 2, false},
		{"count stale but price reclaimed", 101, 5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := holdCtx(domain.StateEntered)
			ctx.MA21 = fp(100)
			ctx.CurrentPrice = tc.price
			ctx.MATestCount = tc.count

			got := c.Check(ctx)
			if !tc.want {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, domain.SubtypeEMA21Sell, got[0].Subtype)
		})
	}
}

func TestTenWeekSell(t *testing.T) {
	c := NewMAChecker(DefaultConfig())

	cases := []struct {
		name   string
		price  float64
		volume *float64
		want   bool
	}{
		{"break on elevated volume", 94, fp(1.2), true},
		{"break on quiet volume", 94, fp(1.1), false},
		{"break with unknown volume", 94, nil, false},
		{"holding the line", 96, fp(2.0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := holdCtx(domain.StateEntered)
			ctx.MA10Week = fp(95)
			ctx.CurrentPrice = tc.price
			ctx.VolumeRatio = tc.volume

			got := c.Check(ctx)
			if !tc.want {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, domain.SubtypeTenWeekSell, got[0].Subtype)
		})
	}
}

func TestClimaxTop(t *testing.T) {
	c := NewMAChecker(DefaultConfig())

	entry := day("2024-01-01")

	base := func() *domain.PositionContext {
		ctx := holdCtx(domain.StateFullPosition)
		ctx.EntryDate = &entry
		ctx.Now = day("2024-03-15") // 74 days held
		ctx.MA50 = fp(100)
		ctx.CurrentPrice = 130
		ctx.VolumeRatio = fp(2.5)
		return ctx
	}

	t.Run("stretched run on surging volume", func(t *testing.T) {
		got := c.Check(base())
		require.Len(t, got, 1)
		assert.Equal(t, domain.SubtypeClimaxTop, got[0].Subtype)
	})

	t.Run("volume not climactic", func(t *testing.T) {
		ctx := base()
		ctx.VolumeRatio = fp(1.5)
		assert.Empty(t, c.Check(ctx))
	})

	t.Run("extension not climactic", func(t *testing.T) {
		ctx := base()
		ctx.CurrentPrice = 120
		assert.Empty(t, c.Check(ctx), "20% above the line is a normal run")
	})

	t.Run("too young to be a climax", func(t *testing.T) {
		ctx := base()
		ctx.Now = day("2024-01-31") // 30 days held
		assert.Empty(t, c.Check(ctx))
	})
}

func TestMACheckerSkipsWatchItems(t *testing.T) {
	c := NewMAChecker(DefaultConfig())

	ctx := watchCtx()
	ctx.MA50 = fp(100)
	ctx.CurrentPrice = 90
	ctx.VolumeRatio = fp(2.0)
	assert.Empty(t, c.Check(ctx))
}
