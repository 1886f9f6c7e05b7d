package regime

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/domain"
)

// maWarmupDays of extra history ahead of the seed window so the 200-day
// moving average is computable on the first seeded date.
const maWarmupDays = 320

// Seeder replays the calculator over historical dates in ascending order,
// producing one regime record per trading day. Already-seeded dates are
// skipped, so an interrupted run resumes where it stopped. Bar fetches go
// through the rate-limited provider, which paces calls internally; the
// seeder only serializes them.
type Seeder struct {
	svc       *Service
	bars      domain.HistoricalBarsProvider
	sentiment domain.SentimentProvider
	log       zerolog.Logger
}

// NewSeeder creates a historical seeder. Sentiment may be nil.
func NewSeeder(svc *Service, bars domain.HistoricalBarsProvider, sentiment domain.SentimentProvider, log zerolog.Logger) *Seeder {
	return &Seeder{
		svc:       svc,
		bars:      bars,
		sentiment: sentiment,
		log:       log.With().Str("component", "regime_seeder").Logger(),
	}
}

// Seed replays [from, to] and returns how many dates were written. The
// context cancels between dates; a cancelled run leaves a resumable store.
func (s *Seeder) Seed(ctx context.Context, from, to time.Time) (int, error) {
	lookback := int(to.Sub(from).Hours()/24) + maWarmupDays

	spyBars, err := s.bars.DailyBars(ctx, "SPY", to, lookback)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch SPY history: %w", err)
	}
	qqqBars, err := s.bars.DailyBars(ctx, "QQQ", to, lookback)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch QQQ history: %w", err)
	}
	if len(spyBars) == 0 {
		return 0, fmt.Errorf("no SPY bars returned for seeding window")
	}

	fgByDate := s.loadSentiment(ctx, from, to)

	qqqIdx := make(map[string]int, len(qqqBars))
	for i, b := range qqqBars {
		qqqIdx[b.Date.Format("2006-01-02")] = i
	}

	written := 0
	fromDay := from.Format("2006-01-02")
	for i, bar := range spyBars {
		if err := ctx.Err(); err != nil {
			s.log.Warn().Int("written", written).Msg("Seeding cancelled")
			return written, err
		}

		day := bar.Date.Format("2006-01-02")
		if day < fromDay {
			continue
		}

		exists, err := s.svc.repo.HasDate(day)
		if err != nil {
			return written, err
		}
		if exists {
			continue
		}

		in := Inputs{
			SPY:  IndexInput{Symbol: "SPY", Bars: spyBars[:i+1]},
			Date: bar.Date,
		}
		if j, ok := qqqIdx[day]; ok {
			in.QQQ = IndexInput{Symbol: "QQQ", Bars: qqqBars[:j+1]}
		}
		if fg, ok := fgByDate[day]; ok {
			reading := fg
			in.FearGreed = &reading
		}

		if _, err := s.svc.RunForDate(in); err != nil {
			return written, fmt.Errorf("failed to seed %s: %w", day, err)
		}
		written++

		if written%50 == 0 {
			s.log.Info().Int("written", written).Str("date", day).Msg("Seeding progress")
		}
	}

	s.log.Info().Int("written", written).
		Str("from", from.Format("2006-01-02")).
		Str("to", to.Format("2006-01-02")).
		Msg("Historical seeding complete")
	return written, nil
}

func (s *Seeder) loadSentiment(ctx context.Context, from, to time.Time) map[string]domain.FearGreed {
	byDate := map[string]domain.FearGreed{}
	if s.sentiment == nil {
		return byDate
	}

	days := int(to.Sub(from).Hours()/24) + 1
	readings, err := s.sentiment.Historical(ctx, days)
	if err != nil {
		// Sentiment is an optional composite input; seed without it.
		s.log.Warn().Err(err).Msg("Sentiment history unavailable, seeding without fear/greed")
		return byDate
	}
	for _, r := range readings {
		byDate[r.Date.Format("2006-01-02")] = r
	}
	return byDate
}
