package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

const (
	SourceLive     = "live"
	SourceFallback = "fallback"
)

// Converter resolves a multiplicative From->To rate for a cohort window.
// Implementations never fail; an unavailable rate is reported as a fallback quote.
type Converter interface {
	Rate(ctx context.Context, window domain.DateWindow) domain.RateQuote
}

type Settings struct {
	BaseURL      string
	From         string
	To           string
	FallbackRate float64
	UseLiveRates bool
	Timeout      time.Duration
}

type Client struct {
	httpClient *http.Client
	settings   Settings
}

func NewClient(settings Settings, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	return &Client{
		httpClient: httpClient,
		settings:   settings,
	}
}

type rangeResponse struct {
	Base  string                        `json:"base"`
	Rates map[string]map[string]float64 `json:"rates"`
}

type latestResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// Rate returns the mean daily rate across the window, or the fallback rate.
func (c *Client) Rate(ctx context.Context, window domain.DateWindow) domain.RateQuote {
	logger := zerolog.Ctx(ctx)

	if !c.settings.UseLiveRates {
		logger.Info().Float64("rate", c.settings.FallbackRate).Msg("using fallback exchange rate")
		return c.fallback("live rates disabled")
	}

	rate, err := c.averageRate(ctx, window)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("window", window.Key()).
			Float64("fallback_rate", c.settings.FallbackRate).
			Msg("exchange rate lookup failed, using fallback")
		return c.fallback(err.Error())
	}

	logger.Info().
		Str("window", window.Key()).
		Str("pair", c.settings.From+"/"+c.settings.To).
		Float64("rate", rate).
		Msg("resolved average exchange rate")
	return domain.RateQuote{Rate: rate, Source: SourceLive}
}

// Latest returns the most recent published rate.
func (c *Client) Latest(ctx context.Context) (float64, error) {
	var resp latestResponse
	if err := c.get(ctx, "/latest", &resp); err != nil {
		return 0, err
	}
	rate, ok := resp.Rates[c.settings.To]
	if !ok {
		return 0, fmt.Errorf("no %s rate in response", c.settings.To)
	}
	return rate, nil
}

func (c *Client) averageRate(ctx context.Context, window domain.DateWindow) (float64, error) {
	path := fmt.Sprintf("/%s..%s",
		window.Start.Format(domain.DateLayout),
		window.LastDay().Format(domain.DateLayout))

	var resp rangeResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return 0, err
	}

	// Sorted so that the float sum does not depend on map order.
	days := make([]string, 0, len(resp.Rates))
	for day := range resp.Rates {
		days = append(days, day)
	}
	sort.Strings(days)

	var sum float64
	var n int
	for _, day := range days {
		if v, ok := resp.Rates[day][c.settings.To]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("no %s rates for %s", c.settings.To, window.Key())
	}
	return sum / float64(n), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	logger := zerolog.Ctx(ctx)

	ctx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
	defer cancel()

	query := url.Values{}
	query.Set("from", c.settings.From)
	query.Set("to", c.settings.To)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.settings.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create rate request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rate request failed: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to close response body")
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("rate service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode rate response: %w", err)
	}
	return nil
}

func (c *Client) fallback(reason string) domain.RateQuote {
	return domain.RateQuote{
		Rate:     c.settings.FallbackRate,
		Fallback: true,
		Source:   SourceFallback,
		Reason:   reason,
	}
}
