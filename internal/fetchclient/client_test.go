package fetchclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/proxy"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher replays a scripted sequence of responses.
type stubFetcher struct {
	responses []stubResponse
	calls     int
	lastProxy *proxy.Proxy
}

type stubResponse struct {
	status int
	body   string
	err    error
}

func (f *stubFetcher) Fetch(url string, via *proxy.Proxy) (int, string, error) {
	f.lastProxy = via
	resp := f.responses[f.calls]
	if f.calls < len(f.responses)-1 {
		f.calls++
	}
	return resp.status, resp.body, resp.err
}

func testFetchConfig() *config.FetchConfig {
	return &config.FetchConfig{
		RetryAttempts:  3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func testLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(60000, 0, 0)
}

func TestGetSuccessFirstAttempt(t *testing.T) {
	f := &stubFetcher{responses: []stubResponse{{status: 200, body: "<html>ok</html>"}}}
	c := NewClient(f, testLimiter(), nil, testFetchConfig())

	body, err := c.Get(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", body)
	assert.Equal(t, 0, f.calls)
}

func TestGetRetriesThenSucceeds(t *testing.T) {
	f := &stubFetcher{responses: []stubResponse{
		{status: 500},
		{err: errors.New("connection reset")},
		{status: 200, body: "recovered"},
	}}
	c := NewClient(f, testLimiter(), nil, testFetchConfig())

	body, err := c.Get(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "recovered", body)
	assert.Equal(t, 2, f.calls)
}

func TestGetExhaustsRetries(t *testing.T) {
	f := &stubFetcher{responses: []stubResponse{{status: 500}}}
	c := NewClient(f, testLimiter(), nil, testFetchConfig())

	_, err := c.Get(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhaustedRetries)

	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, 500, netErr.StatusCode)
}

func TestGetBlockedStatusReportsProxyFailure(t *testing.T) {
	f := &stubFetcher{responses: []stubResponse{{status: http.StatusForbidden}}}
	rotator := proxy.NewRotator(100, 100)
	p := &proxy.Proxy{Protocol: "http", Host: "10.0.0.1", Port: 8080}
	rotator.Add(p)
	c := NewClient(f, testLimiter(), rotator, testFetchConfig())

	_, err := c.Get(context.Background(), "https://example.com")
	require.Error(t, err)

	var blocked *BlockedError
	assert.ErrorAs(t, err, &blocked)
	assert.Equal(t, http.StatusForbidden, blocked.StatusCode)
	assert.Same(t, p, f.lastProxy)
	// Every attempt went through the proxy and failed.
	assert.Equal(t, 3, p.ConsecutiveFailures)
}

func TestGetSuccessReportsProxySuccess(t *testing.T) {
	f := &stubFetcher{responses: []stubResponse{{status: 200, body: "ok"}}}
	rotator := proxy.NewRotator(100, 3)
	p := &proxy.Proxy{Protocol: "http", Host: "10.0.0.1", Port: 8080}
	rotator.Add(p)
	c := NewClient(f, testLimiter(), rotator, testFetchConfig())

	_, err := c.Get(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, p.SuccessCount)
}

func TestGetStopsOnCanceledContext(t *testing.T) {
	f := &stubFetcher{responses: []stubResponse{{status: 500}}}
	c := NewClient(f, testLimiter(), nil, testFetchConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "https://example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrExhaustedRetries)
}

func TestGetRedirectStatusIsSuccess(t *testing.T) {
	f := &stubFetcher{responses: []stubResponse{{status: 301, body: "moved"}}}
	c := NewClient(f, testLimiter(), nil, testFetchConfig())

	body, err := c.Get(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "moved", body)
}
