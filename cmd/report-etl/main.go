// Command report-etl runs one batch of the dashboard report ETL: log in,
// download every (location, campaign) report for the window, normalize it
// and append it to the destination table. It is meant to be started by a
// scheduler and exits when the batch is done.
package main

import (
	"context"
	"database/sql"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/report-etl/internal/config"
	"github.com/ignite/report-etl/internal/datanorm"
	"github.com/ignite/report-etl/internal/extract"
	"github.com/ignite/report-etl/internal/loader"
	"github.com/ignite/report-etl/internal/notify"
	"github.com/ignite/report-etl/internal/observability"
	"github.com/ignite/report-etl/internal/pipeline"
	"github.com/ignite/report-etl/internal/pkg/distlock"
	"github.com/ignite/report-etl/internal/pkg/logger"
	"github.com/ignite/report-etl/internal/report"
	"github.com/ignite/report-etl/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := os.Getenv("ETL_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Printf("Failed to load config %s: %v", cfgPath, err)
		return 1
	}

	closeLog := setupLogging(cfg.Logging)
	defer closeLog()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier, err := newNotifier(ctx, cfg.Notify)
	if err != nil {
		logger.Error("notifier setup failed", "error", err)
		return 1
	}

	db, err := loader.Open(ctx, loaderConfig(cfg.Load))
	if err != nil {
		logger.Error("database unavailable", "driver", cfg.Load.Driver, "server", cfg.Load.Server, "error", err)
		notifier.Send(ctx, notify.KindSetupFailed, notify.Vars{"error": err.Error()})
		return 1
	}
	defer db.Close()
	log.Printf("Connected to %s database %s", cfg.Load.Driver, cfg.Load.Database)

	lock, closeLock := newRunLock(ctx, cfg, db)
	defer closeLock()
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("run lock unavailable", "backend", distlock.Backend(lock), "error", err)
		return 1
	}
	if !acquired {
		logger.Warn("another run holds the lock, exiting", "backend", distlock.Backend(lock), "key", cfg.Lock.Key)
		return 0
	}
	stopKeepAlive := distlock.KeepAlive(ctx, lock, cfg.Lock.TTL())
	defer func() {
		stopKeepAlive()
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Warn("run lock release failed", "error", err)
		}
	}()

	normalizer, err := datanorm.NewNormalizer(datanorm.Config{
		Encoding:        cfg.Normalize.Encoding,
		MaxColumns:      cfg.Normalize.MaxColumns,
		CommonRenames:   cfg.Normalize.CommonRenames,
		CampaignRenames: cfg.Normalize.CampaignRenames,
	})
	if err != nil {
		logger.Error("normalizer setup failed", "error", err)
		return 1
	}

	metrics := observability.New()
	deps := pipeline.Deps{
		Sessions: func(ctx context.Context, dir string) (pipeline.Extractor, error) {
			s, err := extract.NewSession(ctx, extractConfig(cfg.Dashboard), dir)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Normalizer: normalizer,
		Loader:     loader.New(db, loader.Dialect(cfg.Load.Driver), cfg.Load.BatchSize),
		Notifier:   notifier,
		Layout:     storage.NewLayout(cfg.Storage.BaseDir),
		Recorder:   metrics,
	}
	if cfg.Storage.S3Bucket != "" {
		archive, err := storage.NewS3Archive(ctx, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix,
			cfg.Storage.S3Region, cfg.Storage.GetAWSProfile())
		if err != nil {
			logger.Warn("S3 archive disabled", "bucket", cfg.Storage.S3Bucket, "error", err)
		} else {
			deps.Archiver = archive
		}
	}

	orch := pipeline.New(pipelineConfig(cfg), deps)
	out := orch.Run(ctx)

	if cfg.Metrics.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			logger.Warn("metrics push failed", "error", err)
		}
		cancel()
	}

	return exitCode(out)
}

// setupLogging applies the level and tees both loggers to the log file.
func setupLogging(cfg config.LoggingConfig) func() {
	if lvl, err := logger.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(lvl)
	} else {
		log.Printf("Warning: %v, using info", err)
	}
	if cfg.File == "" {
		return func() {}
	}
	f, err := logger.OpenFile(cfg.File)
	if err != nil {
		log.Printf("Warning: cannot open log file %s: %v", cfg.File, err)
		return func() {}
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}
}

func newNotifier(ctx context.Context, cfg config.NotifyConfig) (*notify.Notifier, error) {
	templates, err := notify.NewTemplates(cfg.Templates)
	if err != nil {
		return nil, err
	}
	transport, err := notify.NewTransport(ctx, notify.Config{
		Transport:    cfg.Transport,
		SMTPHost:     cfg.SMTPHost,
		SMTPPort:     cfg.SMTPPort,
		From:         cfg.From,
		To:           cfg.To,
		Password:     cfg.Password,
		SESRegion:    cfg.SESRegion,
		SESAccessKey: cfg.SESAccessKey,
		SESSecretKey: cfg.SESSecretKey,
	})
	if err != nil {
		return nil, err
	}
	return notify.New(transport, templates), nil
}

// newRunLock prefers a reachable Redis, then a DynamoDB lock table, then a
// Postgres advisory lock on the destination database, and runs unlocked when
// none is available. The returned func closes the Redis client.
func newRunLock(ctx context.Context, cfg *config.Config, db *sql.DB) (distlock.DistLock, func()) {
	rdb := connectRedis(ctx, cfg.Lock.RedisURL)
	if rdb != nil {
		return distlock.NewLock(rdb, nil, cfg.Lock.Key, cfg.Lock.TTL()), func() { rdb.Close() }
	}

	if cfg.Lock.DynamoTable != "" {
		l, err := distlock.NewDynamoLock(ctx, cfg.Lock.DynamoTable, cfg.Lock.DynamoRegion, cfg.Lock.Key, cfg.Lock.TTL())
		if err == nil {
			return l, func() {}
		}
		logger.Warn("dynamodb lock unavailable, falling back", "table", cfg.Lock.DynamoTable, "error", err)
	}

	var pg *sql.DB
	if loader.Dialect(cfg.Load.Driver) == loader.Postgres {
		pg = db
	}
	return distlock.NewLock(nil, pg, cfg.Lock.Key, cfg.Lock.TTL()), func() {}
}

// connectRedis returns nil when url is empty, invalid or unreachable.
func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("invalid REDIS_URL, falling back", "error", err)
		return nil
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, falling back", "error", err)
		rdb.Close()
		return nil
	}
	return rdb
}

func extractConfig(d config.DashboardConfig) extract.Config {
	s := d.Selectors
	return extract.Config{
		LoginURL:        d.LoginURL,
		ReportURL:       d.ReportURL,
		Headless:        d.Headless,
		StepTimeout:     d.StepTimeout(),
		DownloadTimeout: d.DownloadTimeout(),
		DateFormat:      d.DateFormat,
		Username:        d.Username,
		Password:        d.Password,
		Selectors: extract.Selectors{
			Username:      s.Username,
			Password:      s.Password,
			Submit:        s.Submit,
			ErrorBanner:   s.ErrorBanner,
			FromDate:      s.FromDate,
			ToDate:        s.ToDate,
			DismissPicker: s.DismissPicker,
			Location:      s.Location,
			Campaign:      s.Campaign,
			Render:        s.Render,
			Download:      s.Download,
		},
	}
}

func loaderConfig(l config.LoadConfig) loader.Config {
	return loader.Config{
		Dialect:   loader.Dialect(l.Driver),
		Server:    l.Server,
		Port:      l.Port,
		Database:  l.Database,
		Schema:    l.Schema,
		Username:  l.Username,
		Password:  l.Password,
		SSLMode:   l.SSLMode,
		Warehouse: l.Warehouse,
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	pc := pipeline.Config{
		Destination: cfg.Load.Table,
		RunSummary:  cfg.Notify.RunSummary,
	}
	for _, l := range cfg.Locations {
		pc.Locations = append(pc.Locations, report.Location(l))
	}
	for _, c := range cfg.Campaigns {
		pc.Campaigns = append(pc.Campaigns, report.Campaign(c))
	}
	return pc
}

// exitCode is 0 when the matrix was processed, even if some cells failed.
func exitCode(out *pipeline.BatchOutcome) int {
	if out.Failed() {
		return 1
	}
	return 0
}
