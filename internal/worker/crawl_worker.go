package worker

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/broker"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/cache"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/fetchclient"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/parser"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/queue"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/sink"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/stats"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/storage"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/telemetry"
)

// CrawlWorker drains the task queue: fetches one listing page per task,
// scrapes every unseen profile it links to, and queues the follow-on
// pagination task. Several workers share all collaborators.
type CrawlWorker struct {
	ID       int
	Queue    *queue.TaskQueue
	Client   *fetchclient.Client
	Listing  parser.ListingParser
	Profile  parser.ProfileParser
	Db       storage.RecordStorage
	Cache    cache.SeenCache
	Sink     sink.Sink
	KafkaDLQ *broker.DeadLetterClient
	Stats    *stats.CrawlStats
	Metrics  *telemetry.CrawlMetrics
	Cfg      *config.Config
	Wg       *sync.WaitGroup
}

func (w *CrawlWorker) Run(ctx context.Context) {
	defer w.Wg.Done()
	slog.Debug("starting crawl worker.", slog.Int("worker", w.ID))

	for {
		select {
		case <-ctx.Done():
			slog.Debug("stopping crawl worker.", slog.Int("worker", w.ID))
			return
		default:
		}

		task, ok := w.Queue.Pop(w.Cfg.WorkerSettings.PollInterval)
		if !ok {
			continue
		}
		w.processTask(ctx, task)
		w.Queue.TaskDone()
	}
}

// processTask handles one listing page. A panic in parsing or downstream
// code fails the task, never the worker.
func (w *CrawlWorker) processTask(ctx context.Context, task *model.Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing task.",
				slog.Any("panic", r),
				slog.String("category", task.Category),
				slog.String("location", task.Location),
				slog.String("stack", string(debug.Stack())))
			w.Stats.AddErrors(1)
		}
	}()

	baseURL := w.Cfg.ScraperSettings.BaseURL
	url := task.URL(baseURL)
	slog.Debug("processing listing page.", slog.Int("worker", w.ID), slog.String("url", url))

	body, err := w.Client.Get(ctx, url)
	if err != nil {
		w.handleListingFailure(task, url, err)
		return
	}

	result, err := w.Listing.ParseListing(body, baseURL)
	if err != nil {
		slog.Error("unparseable listing page.", slog.String("url", url), slog.String("err", err.Error()))
		w.Stats.AddErrors(1)
		w.Metrics.FailedTasksCnt(1)
		w.KafkaDLQ.Publish(task)
		return
	}
	w.Stats.AddPagesFetched(1)
	w.Metrics.PagesFetchedCnt(1)

	if !result.HasResults {
		slog.Debug("no results for pair, branch exhausted.",
			slog.String("category", task.Category), slog.String("location", task.Location),
			slog.Int("page", task.Page))
		return
	}

	for _, ref := range result.References {
		if ctx.Err() != nil {
			return
		}
		if w.Cache.Contains(ref) || w.Db.Contains(ref) {
			slog.Debug("skipping already seen profile.", slog.String("ref", string(ref)))
			continue
		}
		// Claim before scraping so no other worker picks the same profile.
		w.Cache.Add(ref)
		w.scrapeProfile(ctx, ref, task)
	}

	if result.NextPageRef != "" && ctx.Err() == nil {
		w.Queue.Push(&model.Task{
			Category: task.Category,
			Location: task.Location,
			Page:     task.Page + 1,
			PageRef:  result.NextPageRef,
		})
	}
}

// handleListingFailure requeues a task whose fetch exhausted its retries,
// until the task itself runs out of requeues and is abandoned to the DLQ.
func (w *CrawlWorker) handleListingFailure(task *model.Task, url string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if !errors.Is(err, fetchclient.ErrExhaustedRetries) {
		slog.Error("listing fetch failed.", slog.String("url", url), slog.String("err", err.Error()))
		w.Stats.AddErrors(1)
		return
	}

	if task.RetryCount < w.Cfg.WorkerSettings.RetryCeiling {
		slog.Warn("requeueing listing task.",
			slog.String("url", url), slog.Int("retry_count", task.RetryCount+1))
		w.Queue.Push(&model.Task{
			Category:   task.Category,
			Location:   task.Location,
			Page:       task.Page,
			PageRef:    task.PageRef,
			RetryCount: task.RetryCount + 1,
		})
		return
	}

	slog.Error("abandoning listing task.", slog.String("url", url), slog.String("err", err.Error()))
	w.Stats.AddErrors(1)
	w.Metrics.FailedTasksCnt(1)
	w.KafkaDLQ.Publish(task)
}

// scrapeProfile fetches and persists one profile. Failures here are soft:
// the profile is skipped and will be retried on the next run because it was
// never committed.
func (w *CrawlWorker) scrapeProfile(ctx context.Context, ref model.Reference, task *model.Task) {
	body, err := w.Client.Get(ctx, string(ref))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		slog.Warn("profile fetch failed, skipping.",
			slog.String("ref", string(ref)), slog.String("err", err.Error()))
		return
	}

	rec, err := w.Profile.ParseProfile(body, ref, task.Category, task.Location)
	if err != nil {
		slog.Warn("profile parse failed, skipping.",
			slog.String("ref", string(ref)), slog.String("err", err.Error()))
		return
	}
	if rec == nil {
		slog.Debug("page is not a profile, skipping.", slog.String("ref", string(ref)))
		return
	}

	inserted, err := w.Db.Commit(rec)
	if err != nil {
		// One immediate retry covers transient lock contention.
		inserted, err = w.Db.Commit(rec)
	}
	if err != nil {
		slog.Error("failed to commit record.",
			slog.String("ref", string(ref)), slog.String("err", err.Error()))
		w.Stats.AddErrors(1)
	} else if inserted {
		w.Stats.AddRecordsFound(1)
		w.Stats.AddRecordsSaved(1)
		w.Metrics.RecordsSavedCnt(1)
	}

	if err := w.Sink.Write(rec); err != nil {
		slog.Error("failed to write record to sink.",
			slog.String("ref", string(ref)), slog.String("err", err.Error()))
	}
}
