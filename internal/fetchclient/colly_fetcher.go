package fetchclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/proxy"
	"github.com/corpix/uarand"
	"github.com/gocolly/colly"
)

// CollyFetcher is the default Fetcher. Each call builds a throwaway
// collector on a clone of the shared transport so the egress proxy can be
// swapped per request while keeping the tuned connection settings.
type CollyFetcher struct {
	transport *http.Transport
	timeout   time.Duration
}

func NewCollyFetcher(cfg *config.HttpClientConfig) *CollyFetcher {
	return &CollyFetcher{
		transport: &http.Transport{
			MaxIdleConns:        cfg.MaxIdleConnections,
			MaxIdleConnsPerHost: cfg.MaxIdleConnectionsPerHost,
			MaxConnsPerHost:     cfg.MaxConnectionsPerHost,
			IdleConnTimeout:     cfg.IdleConnectionTimeout,
			TLSHandshakeTimeout: cfg.TlsHandshakeTimeout,
			DialContext: (&net.Dialer{
				Timeout:   cfg.DialTimeout,
				KeepAlive: cfg.DialKeepAlive,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TlsInsecureSkipVerify,
			},
		},
		timeout: cfg.RequestTimeout,
	}
}

func (f *CollyFetcher) Fetch(rawURL string, via *proxy.Proxy) (int, string, error) {
	c := colly.NewCollector()
	t := f.transport.Clone()
	if via != nil {
		t.Proxy = http.ProxyURL(via.URL())
	}
	c.WithTransport(t)
	c.SetRequestTimeout(f.timeout)
	c.UserAgent = uarand.GetRandom()

	var (
		status int
		body   string
	)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
			body = string(r.Body)
		}
	})

	err := c.Visit(rawURL)
	if err != nil && status == 0 {
		return 0, "", err
	}
	return status, body, nil
}
