package fetchclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/proxy"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/ratelimit"
	"github.com/cenkalti/backoff/v4"
)

// Fetcher is the transport collaborator. It reports transport-level
// failures through err; HTTP-level failures come back as the status code
// with err nil.
type Fetcher interface {
	Fetch(url string, via *proxy.Proxy) (status int, body string, err error)
}

// Client wraps the Fetcher with the shared rate limiter, the proxy rotator
// and a bounded exponential-backoff retry policy. One Client is shared by
// all workers.
type Client struct {
	fetcher Fetcher
	limiter *ratelimit.Limiter
	rotator *proxy.Rotator // nil when proxying is disabled
	cfg     *config.FetchConfig
}

func NewClient(fetcher Fetcher, limiter *ratelimit.Limiter, rotator *proxy.Rotator,
	cfg *config.FetchConfig) *Client {
	return &Client{
		fetcher: fetcher,
		limiter: limiter,
		rotator: rotator,
		cfg:     cfg,
	}
}

// Get retrieves url, retrying Blocked and NetworkError failures with
// exponential backoff up to the configured attempt budget. A body that
// parses to nothing is not this layer's problem; only transport and status
// failures are retried here.
func (c *Client) Get(ctx context.Context, url string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	attempts := c.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	body, err := backoff.RetryWithData(func() (string, error) {
		return c.attempt(url)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrExhaustedRetries, err)
	}
	return body, nil
}

func (c *Client) attempt(url string) (string, error) {
	c.limiter.Throttle()

	var via *proxy.Proxy
	if c.rotator != nil {
		via = c.rotator.Acquire()
	}

	status, body, err := c.fetcher.Fetch(url, via)
	if err != nil {
		if via != nil {
			c.rotator.ReportFailure(via)
		}
		slog.Debug("fetch transport failure.", slog.String("url", url), slog.String("err", err.Error()))
		return "", &NetworkError{Err: err}
	}

	switch {
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		if via != nil {
			c.rotator.ReportFailure(via)
		}
		slog.Warn("request blocked.", slog.String("url", url), slog.Int("status_code", status))
		return "", &BlockedError{StatusCode: status}
	case status/100 != 2 && status/100 != 3:
		return "", &NetworkError{StatusCode: status}
	}

	if via != nil {
		c.rotator.ReportSuccess(via)
	}
	return body, nil
}
