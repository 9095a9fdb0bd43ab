package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/adapters/blob"
	"github.com/atvirokodosprendimai/rentdesk/internal/adapters/events"
	"github.com/atvirokodosprendimai/rentdesk/internal/adapters/gormstore"
	"github.com/atvirokodosprendimai/rentdesk/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/rentdesk/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/rentdesk/internal/adapters/notify"
	"github.com/atvirokodosprendimai/rentdesk/internal/config"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/usecase"
	"github.com/atvirokodosprendimai/rentdesk/internal/logger"
	"github.com/atvirokodosprendimai/rentdesk/internal/scheduler"
	"github.com/atvirokodosprendimai/rentdesk/migrations"
)

const migrateTimeout = 30 * time.Second

type resourceCloser struct {
	closers []io.Closer
}

// Close releases resources in order and reports every failure.
func (r resourceCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// OpenDatabase connects to the configured database and brings its schema up
// to date.
func OpenDatabase(ctx context.Context, cfg config.Config) (*gormdb.DB, error) {
	db, err := gormdb.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DBDriver, err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()
	if err := migrations.Up(ctx, writeSQLDB, db.Dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies pending migrations and returns the resulting version.
func Migrate(ctx context.Context, cfg config.Config) (int64, error) {
	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		return 0, err
	}
	return migrations.Version(ctx, writeSQLDB, db.Dialect)
}

// OpenAudit gives read access to the audit trail without starting a server.
func OpenAudit(ctx context.Context, cfg config.Config) (*usecase.AuditService, io.Closer, error) {
	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return usecase.NewAuditService(gormstore.NewAuditTrailRepository(db)), db, nil
}

// NewServer wires the full application. The returned closer stops background
// workers and releases connections; the caller shuts the server down first.
func NewServer(ctx context.Context, cfg config.Config, log *zap.Logger) (*http.Server, io.Closer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closers := []io.Closer{db}
	fail := func(err error) (*http.Server, io.Closer, error) {
		_ = resourceCloser{closers: reverse(closers)}.Close()
		return nil, nil, err
	}

	blobs, err := openBlobStorage(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	outboxRepo := gormstore.NewOutboxRepository(db)
	schemas := usecase.NewSchemaService(gormstore.NewSchemaRepository(db))
	data := usecase.NewDataAccess(gormstore.NewRecordStore(db), schemas)
	hub := usecase.NewSubscriptionHub(data, logger.Named(log, "hub"))
	closers = append(closers, hub)

	publishers := events.Fanout{events.NewLogPublisher(logger.Named(log, "events"))}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, redisClient)
		if err := events.Ping(ctx, redisClient); err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		// Changes reach the hub through the channel so every instance sees
		// every write.
		publishers = append(publishers, events.NewRedisPublisher(redisClient, cfg.RedisChannel))
		closers = append(closers, startFeed(events.NewRedisFeed(redisClient, cfg.RedisChannel, hub, logger.Named(log, "redis-feed")), log))
	} else {
		publishers = append(publishers, hub)
	}
	if cfg.WebhookURL != "" {
		publishers = append(publishers, events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0))
	}

	feed := usecase.NewChangeFeed(outboxRepo, publishers, logger.Named(log, "change-feed"), cfg.OutboxInterval, cfg.OutboxBatchSize)
	data.OnCommit(feed.Wake)
	feed.Start(context.Background())
	closers = append(closers, feed)

	jobs := scheduler.NewScheduler(outboxRepo, cfg.RetentionSchedule, cfg.OutboxRetention, logger.Named(log, "scheduler"))
	if err := jobs.Start(); err != nil {
		return fail(err)
	}
	closers = append(closers, jobs)

	inbox := notify.NewInbox(cfg.InboxSize, logger.Named(log, "notify"))
	auth := usecase.NewAuthService(gormstore.NewAccountRepository(db), []byte(cfg.JWTSecret), cfg.SessionTTL)
	workspaces := usecase.NewWorkspaces(usecase.DomainDeps{
		Data:     data,
		Uploader: usecase.NewUploader(blobs, int(cfg.MaxScanBytes), logger.Named(log, "uploader")),
		Notifier: inbox,
	}, logger.Named(log, "workspace"))
	detach := workspaces.Attach(auth)
	closers = append(closers, closerFunc(func() error { detach(); return nil }))

	filesDir := ""
	if local, ok := blobs.(*blob.LocalStorage); ok {
		filesDir = local.Root()
	}

	handler := httpapi.NewHandler(httpapi.Deps{
		Auth:       auth,
		Workspaces: workspaces,
		Data:       data,
		Hub:        hub,
		Audit:      usecase.NewAuditService(gormstore.NewAuditTrailRepository(db)),
		Schemas:    schemas,
		Inbox:      inbox,
		Logger:     logger.Named(log, "http"),
		FilesDir:   filesDir,
		Ready:      readiness(db, redisClient),
		FeedStats:  feed.Stats,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: reverse(closers)}, nil
}

func openBlobStorage(ctx context.Context, cfg config.Config) (ports.BlobStorage, error) {
	if cfg.GCSBucket != "" {
		return blob.NewGCSStorage(ctx, cfg.GCSBucket, cfg.GCSCredentials)
	}
	return blob.NewLocalStorage(cfg.BlobDir, cfg.BlobBaseURL)
}

// startFeed runs the feed until the returned closer is called.
func startFeed(feed *events.RedisFeed, log *zap.Logger) io.Closer {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feed.Run(ctx); err != nil {
			log.Error("redis feed stopped", zap.Error(err))
		}
	}()
	return closerFunc(func() error {
		cancel()
		wg.Wait()
		return nil
	})
}

func readiness(db *gormdb.DB, client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := db.Ping(ctx); err != nil {
			return err
		}
		if client != nil {
			return events.Ping(ctx, client)
		}
		return nil
	}
}

func reverse(closers []io.Closer) []io.Closer {
	out := make([]io.Closer, len(closers))
	for i, c := range closers {
		out[len(closers)-1-i] = c
	}
	return out
}
