package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/cache"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/fetchclient"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/parser"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/proxy"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/queue"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/ratelimit"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/stats"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/storage"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopCrawlMetrics() *telemetry.CrawlMetrics {
	return &telemetry.CrawlMetrics{
		PagesFetchedCnt: func(int64) {},
		RecordsSavedCnt: func(int64) {},
		FailedTasksCnt:  func(int64) {},
	}
}

const testBaseURL = "https://www.doctoralia.es"

// routingFetcher serves canned pages by URL and records every fetch.
type routingFetcher struct {
	mu    sync.Mutex
	pages map[string]routedPage
	hits  map[string]int
}

type routedPage struct {
	status int
	body   string
}

func newRoutingFetcher() *routingFetcher {
	return &routingFetcher{pages: make(map[string]routedPage), hits: make(map[string]int)}
}

func (f *routingFetcher) route(url string, status int, body string) {
	f.pages[url] = routedPage{status: status, body: body}
}

func (f *routingFetcher) Fetch(url string, via *proxy.Proxy) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[url]++
	page, ok := f.pages[url]
	if !ok {
		return 404, "", nil
	}
	return page.status, page.body, nil
}

func (f *routingFetcher) hitCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[url]
}

// collectingSink records every written record.
type collectingSink struct {
	mu      sync.Mutex
	records []*model.Record
}

func (s *collectingSink) Write(rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *collectingSink) Close() error { return nil }

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func testConfig() *config.Config {
	return &config.Config{
		ScraperSettings: &config.ScraperConfig{BaseURL: testBaseURL},
		WorkerSettings: &config.WorkerConfig{
			WorkersNum:   1,
			RetryCeiling: 1,
			PollInterval: 10 * time.Millisecond,
		},
		FetchSettings: &config.FetchConfig{
			RetryAttempts:  2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	}
}

func listingHTML(profiles []string, nextHref string) string {
	page := "<html><body>"
	for _, p := range profiles {
		page += `<h3><a href="` + p + `">Perfil</a></h3>`
	}
	if nextHref != "" {
		page += `<a rel="next" href="` + nextHref + `">Siguiente</a>`
	}
	return page + "</body></html>"
}

func profileHTML(name string) string {
	return `<html><body><h1 itemprop="name">` + name + `</h1></body></html>`
}

type harness struct {
	fetcher *routingFetcher
	queue   *queue.TaskQueue
	db      *storage.SqliteStorage
	sink    *collectingSink
	stats   *stats.CrawlStats
	worker  *CrawlWorker
	wg      *sync.WaitGroup
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()

	db, err := storage.New(&config.DatabaseConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fetcher := newRoutingFetcher()
	client := fetchclient.NewClient(fetcher, ratelimit.NewLimiter(60000, 0, 0), nil, cfg.FetchSettings)

	h := &harness{
		fetcher: fetcher,
		queue:   queue.NewTaskQueue(),
		db:      db,
		sink:    &collectingSink{},
		stats:   stats.New(),
		wg:      &sync.WaitGroup{},
	}
	h.worker = &CrawlWorker{
		ID:      1,
		Queue:   h.queue,
		Client:  client,
		Listing: parser.NewListingParser(),
		Profile: parser.NewProfileParser(),
		Db:      db,
		Cache:   cache.NewMemoryCache(0),
		Sink:    h.sink,
		Stats:   h.stats,
		Metrics: noopCrawlMetrics(),
		Cfg:     cfg,
		Wg:      h.wg,
	}
	return h
}

// runUntilIdle starts the worker and blocks until the queue drains.
func (h *harness) runUntilIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.wg.Add(1)
	go h.worker.Run(ctx)

	select {
	case <-h.queue.Idle():
	case <-time.After(10 * time.Second):
		t.Fatal("queue did not drain")
	}
	cancel()
	h.wg.Wait()
}

func TestWorkerCrawlsListingAndProfiles(t *testing.T) {
	h := newHarness(t)
	h.fetcher.route(testBaseURL+"/dermatologo/madrid", 200, listingHTML([]string{
		"/maria-garcia/dermatologo/madrid",
		"/juan-perez/dermatologo/madrid",
	}, "/dermatologo/madrid/2"))
	h.fetcher.route(testBaseURL+"/dermatologo/madrid/2", 200, listingHTML([]string{
		"/ana-martin/dermatologo/madrid",
	}, ""))
	h.fetcher.route(testBaseURL+"/maria-garcia/dermatologo/madrid", 200, profileHTML("Dra. María García"))
	h.fetcher.route(testBaseURL+"/juan-perez/dermatologo/madrid", 200, profileHTML("Dr. Juan Pérez"))
	h.fetcher.route(testBaseURL+"/ana-martin/dermatologo/madrid", 200, profileHTML("Dra. Ana Martín"))

	h.queue.Push(&model.Task{Category: "dermatologo", Location: "madrid", Page: 1})
	h.runUntilIdle(t)

	count, err := h.db.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, h.sink.count())

	snapshot := h.stats.Snapshot()
	assert.Equal(t, int64(2), snapshot.PagesFetched, "listing pages only")
	assert.Equal(t, int64(3), snapshot.RecordsFound)
	assert.Equal(t, int64(3), snapshot.RecordsSaved)
	assert.Zero(t, snapshot.Errors)
}

func TestWorkerSkipsProfileSeenOnEarlierPage(t *testing.T) {
	h := newHarness(t)
	h.fetcher.route(testBaseURL+"/dermatologo/madrid", 200, listingHTML([]string{
		"/maria-garcia/dermatologo/madrid",
	}, "/dermatologo/madrid/2"))
	// The same profile shows up again on page two.
	h.fetcher.route(testBaseURL+"/dermatologo/madrid/2", 200, listingHTML([]string{
		"/maria-garcia/dermatologo/madrid",
	}, ""))
	h.fetcher.route(testBaseURL+"/maria-garcia/dermatologo/madrid", 200, profileHTML("Dra. María García"))

	h.queue.Push(&model.Task{Category: "dermatologo", Location: "madrid", Page: 1})
	h.runUntilIdle(t)

	assert.Equal(t, 1, h.fetcher.hitCount(testBaseURL+"/maria-garcia/dermatologo/madrid"))
	count, err := h.db.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWorkerStopsPaginationOnEmptyPage(t *testing.T) {
	h := newHarness(t)
	h.fetcher.route(testBaseURL+"/dermatologo/madrid", 200,
		`<html><body><p>No hemos encontrado resultados</p></body></html>`)

	h.queue.Push(&model.Task{Category: "dermatologo", Location: "madrid", Page: 1})
	h.runUntilIdle(t)

	count, err := h.db.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, int64(1), h.stats.Snapshot().PagesFetched)
}

func TestWorkerRequeuesThenAbandonsFailingListing(t *testing.T) {
	h := newHarness(t)
	h.fetcher.route(testBaseURL+"/dermatologo/madrid", 500, "")

	h.queue.Push(&model.Task{Category: "dermatologo", Location: "madrid", Page: 1})
	h.runUntilIdle(t)

	// RetryAttempts=2 fetches per task, RetryCeiling=1 requeue: 4 fetches
	// total, then the task is abandoned and counted as one error.
	assert.Equal(t, 4, h.fetcher.hitCount(testBaseURL+"/dermatologo/madrid"))
	snapshot := h.stats.Snapshot()
	assert.Equal(t, int64(1), snapshot.Errors)
	assert.Zero(t, snapshot.PagesFetched)
}

func TestWorkerSoftFailsOnProfileFetch(t *testing.T) {
	h := newHarness(t)
	h.fetcher.route(testBaseURL+"/dermatologo/madrid", 200, listingHTML([]string{
		"/maria-garcia/dermatologo/madrid",
	}, ""))
	h.fetcher.route(testBaseURL+"/maria-garcia/dermatologo/madrid", 500, "")

	h.queue.Push(&model.Task{Category: "dermatologo", Location: "madrid", Page: 1})
	h.runUntilIdle(t)

	// A failed profile is skipped without failing the listing task; it stays
	// uncommitted so the next run can pick it up.
	count, err := h.db.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
	snapshot := h.stats.Snapshot()
	assert.Zero(t, snapshot.Errors)
	assert.Zero(t, snapshot.RecordsFound)
}

func TestWorkerResumesFromWarmCache(t *testing.T) {
	h := newHarness(t)
	ref := model.Reference(testBaseURL + "/maria-garcia/dermatologo/madrid")
	h.worker.Cache.Add(ref)

	h.fetcher.route(testBaseURL+"/dermatologo/madrid", 200, listingHTML([]string{
		"/maria-garcia/dermatologo/madrid",
	}, ""))

	h.queue.Push(&model.Task{Category: "dermatologo", Location: "madrid", Page: 1})
	h.runUntilIdle(t)

	assert.Zero(t, h.fetcher.hitCount(string(ref)), "seen profile must not be re-fetched")
}
