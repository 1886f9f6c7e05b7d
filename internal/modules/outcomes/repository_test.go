package outcomes

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/slimwatch/internal/database"
	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/modules/positions"
	helpers "github.com/aristath/slimwatch/internal/testing"
)

func newTestRepo(t *testing.T) (*Repository, *database.DB) {
	t.Helper()
	db, cleanup := helpers.NewTestDB(t, "outcomes")
	t.Cleanup(cleanup)
	require.NoError(t, positions.InitSchema(db.Conn()))
	require.NoError(t, InitSchema(db.Conn()))
	return NewRepository(db.Conn(), zerolog.Nop()), db
}

func sampleOutcome(positionID int64, symbol string) *domain.Outcome {
	entry := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	exit := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	return &domain.Outcome{
		PositionID:  positionID,
		Symbol:      symbol,
		Pattern:     "Cup w/Handle",
		BaseStage:   "2",
		BaseDepth:   18,
		BaseLength:  8,
		RSRating:    92,
		EntryGrade:  "A",
		EntryScore:  17,
		GrossPct:    24.5,
		HoldingDays: 45,
		Outcome:     domain.OutcomeSuccess,
		EntryDate:   &entry,
		ExitDate:    &exit,
		ExitReason:  "tp2 filled",
	}
}

func TestRecordAndGet(t *testing.T) {
	repo, _ := newTestRepo(t)

	inserted, err := repo.Record(sampleOutcome(1, "NVDA"))
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := repo.GetByPositionID(1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "NVDA", got.Symbol)
	assert.Equal(t, domain.OutcomeSuccess, got.Outcome)
	assert.Equal(t, 24.5, got.GrossPct)
	assert.Equal(t, 45, got.HoldingDays)
	assert.Equal(t, 92, got.RSRating)
	require.NotNil(t, got.EntryDate)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got.EntryDate.UTC())
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRecordIsWriteOnce(t *testing.T) {
	repo, _ := newTestRepo(t)

	first := sampleOutcome(7, "AMD")
	inserted, err := repo.Record(first)
	require.NoError(t, err)
	assert.True(t, inserted)

	replay := sampleOutcome(7, "AMD")
	replay.GrossPct = -99 // a replayed event must not rewrite history
	inserted, err = repo.Record(replay)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.GetByPositionID(7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 24.5, got.GrossPct)
}

func TestGetByPositionIDMissing(t *testing.T) {
	repo, _ := newTestRepo(t)

	got, err := repo.GetByPositionID(404)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	repo, _ := newTestRepo(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, sym := range []string{"AAA", "BBB", "CCC"} {
		o := sampleOutcome(int64(i+1), sym)
		o.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		_, err := repo.Record(o)
		require.NoError(t, err)
	}

	recent, err := repo.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "CCC", recent[0].Symbol)
	assert.Equal(t, "BBB", recent[1].Symbol)
}

func TestCountByClass(t *testing.T) {
	repo, _ := newTestRepo(t)

	classes := []string{
		domain.OutcomeSuccess, domain.OutcomeSuccess,
		domain.OutcomeStopped, domain.OutcomeFailed,
	}
	for i, class := range classes {
		o := sampleOutcome(int64(i+1), "SYM")
		o.Outcome = class
		_, err := repo.Record(o)
		require.NoError(t, err)
	}

	counts, err := repo.CountByClass()
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.OutcomeSuccess])
	assert.Equal(t, 1, counts[domain.OutcomeStopped])
	assert.Equal(t, 1, counts[domain.OutcomeFailed])
	assert.Equal(t, 0, counts[domain.OutcomePartial])
}

func TestActiveWeightsEmptyWhenUnpublished(t *testing.T) {
	repo, _ := newTestRepo(t)

	version, weights, err := repo.ActiveWeights()
	require.NoError(t, err)
	assert.Empty(t, version)
	assert.Empty(t, weights)
}

func TestActiveWeightsReturnsNewestVersion(t *testing.T) {
	repo, db := newTestRepo(t)

	seed := func(version, factor string, weight float64, at string) {
		_, err := db.Conn().Exec(`INSERT INTO learned_weights (version, factor, weight, updated_at)
			VALUES (?, ?, ?, ?)`, version, factor, weight, at)
		require.NoError(t, err)
	}
	seed("lw1", "pattern", 0.9, "2024-05-01T00:00:00Z")
	seed("lw1", "rs_rating", 1.1, "2024-05-01T00:00:00Z")
	seed("lw2", "pattern", 0.8, "2024-06-01T00:00:00Z")

	version, weights, err := repo.ActiveWeights()
	require.NoError(t, err)
	assert.Equal(t, "lw2", version)
	assert.Equal(t, map[string]float64{"pattern": 0.8}, weights)
}
