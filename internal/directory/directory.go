// Package directory resolves the set of market tickers to track by walking
// the upstream REST catalogue: series → open events → markets. The rest of
// the system treats the result as an opaque read-only list.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Client queries the market/event directory.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// New creates a directory client for the given REST base URL
// (e.g. "https://api.elections.kalshi.com/trade-api/v2").
func New(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type eventsResponse struct {
	Events []struct {
		EventTicker string `json:"event_ticker"`
	} `json:"events"`
}

type marketsResponse struct {
	Markets []struct {
		Ticker string `json:"ticker"`
	} `json:"markets"`
}

// Markets returns the tickers of every market under every open event of the
// given series.
func (c *Client) Markets(ctx context.Context, series []string) ([]string, error) {
	var tickers []string

	for _, s := range series {
		var events eventsResponse
		q := url.Values{"series_ticker": {s}, "status": {"open"}}
		if err := c.get(ctx, "/events", q, &events); err != nil {
			return nil, fmt.Errorf("directory: events for %s: %w", s, err)
		}

		for _, ev := range events.Events {
			var markets marketsResponse
			q := url.Values{"event_ticker": {ev.EventTicker}}
			if err := c.get(ctx, "/markets", q, &markets); err != nil {
				return nil, fmt.Errorf("directory: markets for %s: %w", ev.EventTicker, err)
			}
			for _, m := range markets.Markets {
				tickers = append(tickers, m.Ticker)
			}
		}
		c.log.Info("series resolved",
			zap.String("series", s), zap.Int("events", len(events.Events)))
	}

	return tickers, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
