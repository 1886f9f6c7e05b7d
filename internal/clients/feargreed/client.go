// Package feargreed implements the sentiment provider over the CNN-style
// fear-and-greed HTTP feed.
package feargreed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/domain"
)

const defaultTimeout = 5 * time.Second

// Client fetches fear-and-greed readings. Scores are clamped to [0, 100]
// so a misbehaving feed cannot skew the regime math.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a sentiment client for the given feed base URL.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.With().Str("component", "feargreed").Logger(),
	}
}

type reading struct {
	Date   string  `json:"date"`
	Score  float64 `json:"score"`
	Rating string  `json:"rating"`
}

func (r reading) toDomain() (domain.FearGreed, error) {
	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return domain.FearGreed{}, fmt.Errorf("failed to parse reading date %q: %w", r.Date, err)
	}
	return domain.FearGreed{
		Date:   date,
		Score:  clampScore(r.Score),
		Rating: r.Rating,
	}, nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Current returns the latest reading.
func (c *Client) Current(ctx context.Context) (*domain.FearGreed, error) {
	var r reading
	if err := c.getJSON(ctx, c.baseURL+"/fear-greed/current", &r); err != nil {
		return nil, err
	}
	fg, err := r.toDomain()
	if err != nil {
		return nil, err
	}
	return &fg, nil
}

// Historical returns up to days readings, oldest first.
func (c *Client) Historical(ctx context.Context, days int) ([]domain.FearGreed, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive")
	}

	var rs []reading
	u := fmt.Sprintf("%s/fear-greed/history?days=%d", c.baseURL, days)
	if err := c.getJSON(ctx, u, &rs); err != nil {
		return nil, err
	}

	out := make([]domain.FearGreed, 0, len(rs))
	for _, r := range rs {
		fg, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, fg)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sentiment feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sentiment feed returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode sentiment response: %w", err)
	}
	return nil
}
