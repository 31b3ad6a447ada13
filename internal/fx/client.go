// Package fx looks up the CLP value of foreign currencies.
package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"cuentas/internal/cache"
	"cuentas/internal/log"
)

const (
	DefaultURL      = "https://mindicador.cl/api/dolar"
	DefaultCacheTTL = time.Hour

	dollarKey = "usd"
)

// ErrUnavailable is returned when the indicator service is unreachable or
// gives no usable rate.
var ErrUnavailable = errors.New("fx: rate unavailable")

// Client fetches the dollar rate and keeps it for the cache TTL.
type Client struct {
	url    string
	http   *http.Client
	cache  cache.Cache[decimal.Decimal]
	logger *log.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithCache(cc cache.Cache[decimal.Decimal]) Option {
	return func(c *Client) { c.cache = cc }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l.WithComponent(log.ComponentFX) }
}

func New(url string, ttl time.Duration, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Client{
		url:    url,
		http:   newHTTPClient(),
		cache:  cache.NewLRU[decimal.Decimal](8, ttl),
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cache exposes the rate cache so it can be registered with a janitor.
func (c *Client) Cache() cache.Cache[decimal.Decimal] {
	return c.cache
}

type indicatorResponse struct {
	Serie []struct {
		Fecha string          `json:"fecha"`
		Valor decimal.Decimal `json:"valor"`
	} `json:"serie"`
}

// DollarRate returns how many CLP one USD is worth, using the latest
// observation of the indicator series.
func (c *Client) DollarRate(ctx context.Context) (decimal.Decimal, error) {
	if rate, ok := c.cache.Get(dollarKey); ok {
		return rate, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build fx request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "fx request failed", log.FieldError, err.Error())
		return decimal.Zero, fmt.Errorf("%w: fetch dollar rate: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body indicatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode fx response: %w", ErrUnavailable, err)
	}
	if len(body.Serie) == 0 {
		return decimal.Zero, fmt.Errorf("%w: empty series", ErrUnavailable)
	}
	rate := body.Serie[0].Valor
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive value %s", ErrUnavailable, rate)
	}

	c.cache.Set(dollarKey, rate)
	c.logger.DebugContext(ctx, "dollar rate refreshed",
		"rate", rate.String(),
		"observed", body.Serie[0].Fecha,
		log.FieldDuration, time.Since(start).Milliseconds())
	return rate, nil
}

func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 15 * time.Second}
}
