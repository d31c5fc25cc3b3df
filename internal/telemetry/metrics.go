package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/google/uuid"
)

var meter metric.Meter

type MetricsProvider struct {
	CrawlMetrics *CrawlMetrics
	ProxyMetrics *ProxyMetrics
	SinkMetrics  *SinkMetrics
	Close        func()
}

type CrawlMetrics struct {
	PagesFetchedCnt func(count int64)
	RecordsSavedCnt func(count int64)
	FailedTasksCnt  func(count int64)
}

type ProxyMetrics struct {
	RetiredProxiesCnt func(count int64)
}

type SinkMetrics struct {
	SuccessfullySentCnt func(count int64)
	FailedSentCnt       func(count int64)
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	metricsProvider := new(MetricsProvider)
	var meterProvider *sdkmetric.MeterProvider

	if cfg.TelemetrySettings.Enabled {
		r, err := newResource(cfg)
		if err != nil {
			slog.Error("failed to get resource.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
		if err != nil {
			slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		meterProvider = newMeterProvider(exporter, *r)
		otel.SetMeterProvider(meterProvider)
	}

	meter = otel.Meter(cfg.ServiceName)
	metricsProvider.Close = func() {
		if meterProvider != nil {
			err := meterProvider.Shutdown(ctx)
			if err != nil {
				slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
			}
		}
	}

	// Set up crawl metrics
	pagesFetchedCounter, err := meter.Int64Counter("scraper.pages.fetched",
		metric.WithDescription("The number of listing pages successfully fetched and parsed"),
		metric.WithUnit("{pages}"))
	recordsSavedCounter, err := meter.Int64Counter("scraper.records.saved",
		metric.WithDescription("The number of new records committed to storage"),
		metric.WithUnit("{records}"))
	failedTasksCounter, err := meter.Int64Counter("scraper.tasks.failed",
		metric.WithDescription("The number of tasks abandoned after exhausting the retry budget"),
		metric.WithUnit("{tasks}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for crawl.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.CrawlMetrics = &CrawlMetrics{
		PagesFetchedCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				pagesFetchedCounter.Add(ctx, count)
			}
		},
		RecordsSavedCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				recordsSavedCounter.Add(ctx, count)
			}
		},
		FailedTasksCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				failedTasksCounter.Add(ctx, count)
			}
		},
	}

	// Set up proxy metrics
	retiredProxiesCounter, err := meter.Int64Counter("scraper.proxies.retired",
		metric.WithDescription("The number of proxies retired after consecutive failures"),
		metric.WithUnit("{proxies}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for proxies.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.ProxyMetrics = &ProxyMetrics{
		RetiredProxiesCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				retiredProxiesCounter.Add(ctx, count)
			}
		},
	}

	// Set up sink metrics
	sinkSuccessCounter, err := meter.Int64Counter("scraper.sink.send.success",
		metric.WithDescription("The number of records successfully delivered to the sink"),
		metric.WithUnit("{records}"))
	sinkFailCounter, err := meter.Int64Counter("scraper.sink.send.fail",
		metric.WithDescription("The number of records the sink could not deliver"),
		metric.WithUnit("{records}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for sink.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.SinkMetrics = &SinkMetrics{
		SuccessfullySentCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				sinkSuccessCounter.Add(ctx, count)
			}
		},
		FailedSentCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				sinkFailCounter.Add(ctx, count)
			}
		},
	}

	// initialize metrics in the collector for dashboard setup
	if cfg.TelemetrySettings.Enabled {
		metricsProvider.CrawlMetrics.PagesFetchedCnt(1)
		metricsProvider.CrawlMetrics.RecordsSavedCnt(1)
		metricsProvider.CrawlMetrics.FailedTasksCnt(1)
		metricsProvider.ProxyMetrics.RetiredProxiesCnt(1)
		metricsProvider.SinkMetrics.SuccessfullySentCnt(1)
		metricsProvider.SinkMetrics.FailedSentCnt(1)
	}

	return metricsProvider
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
	return meterProvider
}
