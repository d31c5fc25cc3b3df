package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/aws_s3"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/broker"
	cacheClient "github.com/ahmedxxzz/doctoralia-scraper/internal/cache"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/fetchclient"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/parser"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/proxy"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/queue"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/ratelimit"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/sink"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/stats"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/storage"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/telemetry"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/worker"
	"github.com/lmittmann/tint"
)

const (
	exitOK          = 0
	exitFatal       = 1
	exitInterrupted = 130
)

var cfg *config.Config

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	setupLogger()
	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()

	db := setupStorage()
	defer closeStorage(db)

	seen := setupSeenCache(db)
	defer seen.Close()

	rotator := setupProxies(metrics.ProxyMetrics)
	limiter := ratelimit.NewLimiter(cfg.RateLimitSettings.RequestsPerMinute,
		cfg.RateLimitSettings.JitterMinSeconds, cfg.RateLimitSettings.JitterMaxSeconds)
	client := fetchclient.NewClient(fetchclient.NewCollyFetcher(cfg.HttpSettings),
		limiter, rotator, cfg.FetchSettings)

	recordSink := setupSink(metrics.SinkMetrics)
	defer func() {
		if err := recordSink.Close(); err != nil {
			slog.Error("failed to close record sink.", slog.String("err", err.Error()))
		}
	}()
	kafkaDLQ := setupDeadLetter()
	defer kafkaDLQ.Close()

	crawlStats := stats.New()
	taskQueue := queue.NewTaskQueue()
	seedTasks(taskQueue)
	slog.Info("starting application.", slog.String("env", cfg.Env),
		slog.Int("seed_tasks", taskQueue.Len()),
		slog.Duration("min_request_interval", limiter.MinInterval()))

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	workerWg := &sync.WaitGroup{}
	threadNum := parallelWorkers()
	for i := 0; i < threadNum; i++ {
		w := &worker.CrawlWorker{
			ID:       i + 1,
			Queue:    taskQueue,
			Client:   client,
			Listing:  parser.NewListingParser(),
			Profile:  parser.NewProfileParser(),
			Db:       db,
			Cache:    seen,
			Sink:     recordSink,
			KafkaDLQ: kafkaDLQ,
			Stats:    crawlStats,
			Metrics:  metrics.CrawlMetrics,
			Cfg:      cfg,
			Wg:       workerWg,
		}
		workerWg.Add(1)
		go w.Run(workerCtx)
	}

	// Graceful shutdown.
	// 1. Wait for the queue to drain or an interrupt.
	// 2. Cancel the worker context and wait for every worker to return.
	// 3. Report final stats, export the CSV snapshot, close everything via
	//    the deferred cleanups.
	exitCode := exitOK
	select {
	case <-taskQueue.Idle():
		slog.Info("crawl complete. queue drained.")
	case <-ctx.Done():
		slog.Info("interrupt received. stopping workers...")
		exitCode = exitInterrupted
	}
	cancelWorkers()
	workerWg.Wait()

	finalReport(db, crawlStats)
	return exitCode
}

func setupLogger() *slog.Logger {
	envLogLevel := strings.ToLower(cfg.LogLevel)
	var slogLevel slog.Level
	err := slogLevel.UnmarshalText([]byte(envLogLevel))
	if err != nil {
		log.Printf("encountenred log level: '%s'. The package does not support custom log levels", envLogLevel)
		slogLevel = slog.LevelDebug
	}
	log.Printf("slog level overwritten to '%v'", slogLevel)
	slog.SetLogLoggerLevel(slogLevel)

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
			NoColor: func() bool {
				if cfg.Env == "local" {
					return false
				}
				return true
			}()}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupStorage() *storage.SqliteStorage {
	slog.Info("opening the database...", slog.String("dir", cfg.DbSettings.Dir))
	db, err := storage.New(cfg.DbSettings)
	if err != nil {
		slog.Error("failed to open the database.", slog.String("err", err.Error()))
		os.Exit(exitFatal)
	}
	count, err := db.Count()
	if err != nil {
		slog.Error("failed to read the database.", slog.String("err", err.Error()))
		os.Exit(exitFatal)
	}
	slog.Info("database ready.", slog.Int("existing_records", count))
	return db
}

func closeStorage(db *storage.SqliteStorage) {
	slog.Info("closing database connection.")
	if err := db.Close(); err != nil {
		slog.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}

// setupSeenCache picks memcached when servers are configured, and warms the
// cache with every reference already persisted so a resumed run skips them
// without touching the network.
func setupSeenCache(db *storage.SqliteStorage) cacheClient.SeenCache {
	var seen cacheClient.SeenCache
	if cfg.CacheSettings != nil && len(cfg.CacheSettings.Servers) > 0 {
		seen = cacheClient.NewMemcachedCache(cfg.CacheSettings)
	} else {
		ttl := time.Duration(0)
		if cfg.CacheSettings != nil {
			ttl = cfg.CacheSettings.TtlForRef
		}
		seen = cacheClient.NewMemoryCache(ttl)
	}

	refs, err := db.ExistingReferences()
	if err != nil {
		slog.Error("failed to load existing references.", slog.String("err", err.Error()))
		os.Exit(exitFatal)
	}
	for ref := range refs {
		seen.Add(ref)
	}
	if len(refs) > 0 {
		slog.Info("resuming previous run.", slog.Int("known_profiles", len(refs)))
	}
	return seen
}

// setupProxies populates the rotator from every configured source. An empty
// pool is not fatal: the crawl proceeds over the direct connection.
func setupProxies(metrics *telemetry.ProxyMetrics) *proxy.Rotator {
	if cfg.ProxySettings == nil || !cfg.ProxySettings.Enabled {
		slog.Info("proxying disabled. using direct connection.")
		return nil
	}

	ps := cfg.ProxySettings
	rotator := proxy.NewRotator(ps.RotationInterval, ps.FailureThreshold)
	rotator.OnRetire(func() { metrics.RetiredProxiesCnt(1) })

	rotator.LoadFromList(ps.List)
	rotator.LoadFromEnv()
	if ps.FilePath != "" {
		if _, err := rotator.LoadFromFile(ps.FilePath); err != nil {
			slog.Warn("failed to load proxies from file.", slog.String("err", err.Error()))
		}
	}
	if ps.ProviderURL != "" {
		if _, err := rotator.LoadFromProvider(ps.ProviderURL, ps.ProviderAPIKey); err != nil {
			slog.Warn("failed to load proxies from provider.", slog.String("err", err.Error()))
		}
	}

	if hc := ps.HealthCheck; hc != nil && hc.Enabled && rotator.Size() > 0 {
		if err := rotator.HealthCheck(hc.TestURL, hc.Timeout, hc.MaxProxies); err != nil {
			slog.Warn("proxy health check left the pool empty. using direct connection.",
				slog.String("err", err.Error()))
		}
	}

	if rotator.Size() == 0 {
		slog.Warn("no proxies loaded. using direct connection.")
	} else {
		slog.Info("proxy pool ready.", slog.Int("pool_size", rotator.Size()))
	}
	return rotator
}

func setupSink(metrics *telemetry.SinkMetrics) sink.Sink {
	switch strings.ToLower(cfg.SinkSettings.Type) {
	case "jsonl":
		s, err := sink.NewJsonlSink(cfg.SinkSettings.OutputDir)
		if err != nil {
			slog.Error("failed to create jsonl sink.", slog.String("err", err.Error()))
			os.Exit(exitFatal)
		}
		return s
	case "kafka":
		return broker.NewKafkaSink(cfg.KafkaSettings.Producer, metrics)
	case "s3":
		return aws_s3.NewS3Sink(cfg)
	default:
		s, err := sink.NewCsvSink(cfg.SinkSettings.OutputDir)
		if err != nil {
			slog.Error("failed to create csv sink.", slog.String("err", err.Error()))
			os.Exit(exitFatal)
		}
		return s
	}
}

func setupDeadLetter() *broker.DeadLetterClient {
	if cfg.KafkaSettings == nil {
		return nil
	}
	return broker.NewDeadLetterClient(cfg.KafkaSettings.Producer)
}

// seedTasks enqueues page one of every category x location pair.
func seedTasks(taskQueue *queue.TaskQueue) {
	for _, category := range cfg.ScraperSettings.Categories {
		for _, location := range cfg.ScraperSettings.Locations {
			taskQueue.Push(&model.Task{Category: category, Location: location, Page: 1})
		}
	}
}

func finalReport(db *storage.SqliteStorage, crawlStats *stats.CrawlStats) {
	snapshot := crawlStats.Snapshot()
	slog.Info("crawl finished.", slog.String("stats", snapshot.String()))

	total, err := db.Count()
	if err != nil {
		slog.Error("failed to count records.", slog.String("err", err.Error()))
		return
	}
	slog.Info("records in database.", slog.Int("total", total))

	exportPath := filepath.Join(cfg.SinkSettings.OutputDir,
		fmt.Sprintf("doctors_export_%s.csv", time.Now().Format("20060102_150405")))
	if err := db.ExportCSV(exportPath); err != nil {
		slog.Error("failed to export csv.", slog.String("err", err.Error()))
		return
	}
	slog.Info("exported csv snapshot.", slog.String("path", exportPath))
}

// Set -1 to use all available CPUs
func parallelWorkers() int {
	customNumCPU := cfg.WorkerSettings.WorkersNum
	if customNumCPU == -1 {
		return runtime.NumCPU()
	}
	if customNumCPU <= 0 {
		slog.Error("workers number is 0 or less than -1")
		os.Exit(exitFatal)
	}

	return customNumCPU
}
