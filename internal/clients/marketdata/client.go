// Package marketdata implements the historical bars provider and the
// market-status feed over the market-data HTTP service. The upstream
// enforces a strict request rate on its data endpoints, so bar and earnings
// calls flow through a single worker goroutine that spaces requests by the
// pacing delay; callers block until their turn completes. Status and
// holiday lookups are not rate limited and call the upstream directly.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/domain"
)

const (
	defaultPacingDelay = 25 * time.Second
	defaultTimeout     = 30 * time.Second
	requestQueueSize   = 64
)

// Client is the HTTP client for daily bars, earnings dates, and market
// status. Bar and earnings calls are paced; status calls are not.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger

	pacingDelay  time.Duration
	requestQueue chan requestJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	once         sync.Once
}

// requestJob is one queued call; the worker runs fn and posts the error.
type requestJob struct {
	ctx      context.Context
	fn       func() error
	resultCh chan error
}

// Option tweaks client construction.
type Option func(*Client)

// WithPacingDelay overrides the gap enforced between upstream calls.
func WithPacingDelay(d time.Duration) Option {
	return func(c *Client) { c.pacingDelay = d }
}

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout overrides the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates the client and starts its pacing worker.
func NewClient(baseURL string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		log:          log.With().Str("component", "marketdata").Logger(),
		pacingDelay:  defaultPacingDelay,
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.worker()
	return c
}

// Close stops the pacing worker after draining queued requests.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.stopChan)
		<-c.workerDone
	})
}

// enqueue submits fn to the pacing worker and waits for it to finish.
func (c *Client) enqueue(ctx context.Context, fn func() error) error {
	resultCh := make(chan error, 1)
	job := requestJob{ctx: ctx, fn: fn, resultCh: resultCh}

	select {
	case c.requestQueue <- job:
	case <-c.stopChan:
		return fmt.Errorf("client is closed")
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("request queue is full")
	}

	select {
	case err := <-resultCh:
		return err
	case <-c.stopChan:
		return fmt.Errorf("client is closed")
	case <-ctx.Done():
		// The worker still runs the job for pacing accounting; the caller
		// stops waiting.
		return ctx.Err()
	}
}

// worker serializes requests and enforces the pacing delay between them.
func (c *Client) worker() {
	defer close(c.workerDone)

	var lastRequest time.Time
	first := true

	processJob := func(job requestJob) {
		if job.ctx.Err() != nil {
			job.resultCh <- job.ctx.Err()
			return
		}
		if !first {
			if elapsed := time.Since(lastRequest); elapsed < c.pacingDelay {
				select {
				case <-time.After(c.pacingDelay - elapsed):
				case <-c.stopChan:
					job.resultCh <- fmt.Errorf("client is closed")
					return
				}
			}
		}
		first = false

		err := job.fn()
		lastRequest = time.Now()
		job.resultCh <- err
	}

	for {
		select {
		case <-c.stopChan:
			// Drain what is already queued so no caller hangs.
			for {
				select {
				case job := <-c.requestQueue:
					job.resultCh <- fmt.Errorf("client is closed")
				default:
					return
				}
			}
		case job := <-c.requestQueue:
			processJob(job)
		}
	}
}

// barsResponse is the /v1/daily payload.
type barsResponse struct {
	Symbol string `json:"symbol"`
	Bars   []struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	} `json:"bars"`
}

// earningsResponse is the /v1/earnings payload; date is null when the
// upstream has no scheduled report.
type earningsResponse struct {
	Symbol string  `json:"symbol"`
	Date   *string `json:"date"`
}

// DailyBars fetches up to lookbackDays daily bars ending at end, oldest
// first. The call blocks for its pacing slot.
func (c *Client) DailyBars(ctx context.Context, symbol string, end time.Time, lookbackDays int) ([]domain.Bar, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("lookbackDays must be positive")
	}

	var bars []domain.Bar
	err := c.enqueue(ctx, func() error {
		u := fmt.Sprintf("%s/v1/daily/%s?end=%s&days=%d",
			c.baseURL, url.PathEscape(symbol), end.Format("2006-01-02"), lookbackDays)

		var resp barsResponse
		if err := c.getJSON(ctx, u, &resp); err != nil {
			return err
		}

		out := make([]domain.Bar, 0, len(resp.Bars))
		for _, b := range resp.Bars {
			date, err := time.Parse("2006-01-02", b.Date)
			if err != nil {
				return fmt.Errorf("failed to parse bar date %q: %w", b.Date, err)
			}
			out = append(out, domain.Bar{
				Date:   date,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			})
		}
		bars = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Fetched daily bars")
	return bars, nil
}

// NextEarningsDate returns the next scheduled earnings date, nil when none
// is scheduled.
func (c *Client) NextEarningsDate(ctx context.Context, symbol string) (*time.Time, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	var result *time.Time
	err := c.enqueue(ctx, func() error {
		u := fmt.Sprintf("%s/v1/earnings/%s/next", c.baseURL, url.PathEscape(symbol))

		var resp earningsResponse
		if err := c.getJSON(ctx, u, &resp); err != nil {
			return err
		}
		if resp.Date == nil || *resp.Date == "" {
			return nil
		}
		date, err := time.Parse("2006-01-02", *resp.Date)
		if err != nil {
			return fmt.Errorf("failed to parse earnings date %q: %w", *resp.Date, err)
		}
		result = &date
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// statusResponse is the /v1/market/status payload.
type statusResponse struct {
	Open    bool   `json:"open"`
	Session string `json:"session"`
}

// holidaysResponse is the /v1/market/holidays payload.
type holidaysResponse struct {
	Holidays []string `json:"holidays"`
}

// CurrentStatus reports whether the market is open right now and which
// session applies. The status endpoint is not rate limited upstream, so
// the call skips the pacing queue.
func (c *Client) CurrentStatus(ctx context.Context) (bool, string, error) {
	var resp statusResponse
	if err := c.getJSON(ctx, c.baseURL+"/v1/market/status", &resp); err != nil {
		return false, "", err
	}
	return resp.Open, resp.Session, nil
}

// UpcomingHolidays returns the upcoming full-day market closures, soonest
// first. Like CurrentStatus it skips the pacing queue.
func (c *Client) UpcomingHolidays(ctx context.Context) ([]time.Time, error) {
	var resp holidaysResponse
	if err := c.getJSON(ctx, c.baseURL+"/v1/market/holidays", &resp); err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, len(resp.Holidays))
	for _, d := range resp.Holidays {
		date, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("failed to parse holiday date %q: %w", d, err)
		}
		out = append(out, date)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found: %s", u)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
