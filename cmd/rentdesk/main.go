package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/app"
	"github.com/atvirokodosprendimai/rentdesk/internal/config"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/logger"
)

func main() {
	if err := config.LoadEnv(os.Getenv("RENTDESK_ENV_FILE")); err != nil {
		log.Fatal(err)
	}

	defaults := config.Default()
	cmd := &cli.Command{
		Name:  "rentdesk",
		Usage: "Rental property bookkeeping API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: defaults.LogLevel, Sources: cli.EnvVars("RENTDESK_LOG_LEVEL"), Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Value: defaults.LogFormat, Sources: cli.EnvVars("RENTDESK_LOG_FORMAT"), Usage: "json or console"},
			&cli.StringFlag{Name: "db-driver", Value: defaults.DBDriver, Sources: cli.EnvVars("RENTDESK_DB_DRIVER"), Usage: "sqlite or postgres"},
			&cli.StringFlag{Name: "db-path", Value: defaults.DBPath, Sources: cli.EnvVars("RENTDESK_DB_PATH"), Usage: "SQLite file path"},
			&cli.StringFlag{Name: "database-url", Sources: cli.EnvVars("RENTDESK_DATABASE_URL", "DATABASE_URL"), Usage: "Postgres connection string"},
		},
		Commands: []*cli.Command{
			serveCommand(defaults),
			migrateCommand(),
			activityCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand(defaults config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: defaults.Addr, Sources: cli.EnvVars("RENTDESK_ADDR"), Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "jwt-secret", Sources: cli.EnvVars("RENTDESK_JWT_SECRET"), Usage: "HMAC secret for session tokens"},
			&cli.DurationFlag{Name: "session-ttl", Value: defaults.SessionTTL, Sources: cli.EnvVars("RENTDESK_SESSION_TTL"), Usage: "Session token lifetime"},
			&cli.StringFlag{Name: "blob-dir", Value: defaults.BlobDir, Sources: cli.EnvVars("RENTDESK_BLOB_DIR"), Usage: "Directory for uploaded scans"},
			&cli.StringFlag{Name: "blob-base-url", Value: defaults.BlobBaseURL, Sources: cli.EnvVars("RENTDESK_BLOB_BASE_URL"), Usage: "URL prefix of served scans"},
			&cli.StringFlag{Name: "gcs-bucket", Sources: cli.EnvVars("RENTDESK_GCS_BUCKET"), Usage: "Store scans in this Cloud Storage bucket instead of blob-dir"},
			&cli.StringFlag{Name: "gcs-credentials", Sources: cli.EnvVars("RENTDESK_GCS_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS"), Usage: "Service account key file"},
			&cli.Int64Flag{Name: "max-scan-bytes", Value: defaults.MaxScanBytes, Sources: cli.EnvVars("RENTDESK_MAX_SCAN_BYTES"), Usage: "Scans above this size are downscaled"},
			&cli.StringFlag{Name: "redis-addr", Sources: cli.EnvVars("RENTDESK_REDIS_ADDR"), Usage: "Share change events between instances through Redis"},
			&cli.StringFlag{Name: "redis-password", Sources: cli.EnvVars("RENTDESK_REDIS_PASSWORD"), Usage: "Redis password"},
			&cli.IntFlag{Name: "redis-db", Sources: cli.EnvVars("RENTDESK_REDIS_DB"), Usage: "Redis database number"},
			&cli.StringFlag{Name: "redis-channel", Sources: cli.EnvVars("RENTDESK_REDIS_CHANNEL"), Usage: "Redis pub/sub channel for change events"},
			&cli.StringFlag{Name: "webhook-url", Sources: cli.EnvVars("RENTDESK_WEBHOOK_URL"), Usage: "Change event webhook target URL"},
			&cli.StringFlag{Name: "webhook-secret", Sources: cli.EnvVars("RENTDESK_WEBHOOK_SECRET"), Usage: "HMAC-SHA256 signing secret for webhook requests"},
			&cli.DurationFlag{Name: "outbox-interval", Value: defaults.OutboxInterval, Sources: cli.EnvVars("RENTDESK_OUTBOX_INTERVAL"), Usage: "Outbox poll interval"},
			&cli.IntFlag{Name: "outbox-batch-size", Value: defaults.OutboxBatchSize, Sources: cli.EnvVars("RENTDESK_OUTBOX_BATCH_SIZE"), Usage: "Envelopes per outbox batch"},
			&cli.DurationFlag{Name: "outbox-retention", Value: defaults.OutboxRetention, Sources: cli.EnvVars("RENTDESK_OUTBOX_RETENTION"), Usage: "Keep dispatched envelopes this long"},
			&cli.StringFlag{Name: "retention-schedule", Value: defaults.RetentionSchedule, Sources: cli.EnvVars("RENTDESK_RETENTION_SCHEDULE"), Usage: "Cron schedule of the outbox purge"},
			&cli.IntFlag{Name: "inbox-size", Value: defaults.InboxSize, Sources: cli.EnvVars("RENTDESK_INBOX_SIZE"), Usage: "Notifications kept per owner"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := databaseConfig(c)
			cfg.Addr = c.String("addr")
			cfg.JWTSecret = c.String("jwt-secret")
			cfg.SessionTTL = c.Duration("session-ttl")
			cfg.BlobDir = c.String("blob-dir")
			cfg.BlobBaseURL = c.String("blob-base-url")
			cfg.GCSBucket = c.String("gcs-bucket")
			cfg.GCSCredentials = c.String("gcs-credentials")
			cfg.MaxScanBytes = c.Int64("max-scan-bytes")
			cfg.RedisAddr = c.String("redis-addr")
			cfg.RedisPassword = c.String("redis-password")
			cfg.RedisDB = c.Int("redis-db")
			cfg.RedisChannel = c.String("redis-channel")
			cfg.WebhookURL = c.String("webhook-url")
			cfg.WebhookSecret = c.String("webhook-secret")
			cfg.OutboxInterval = c.Duration("outbox-interval")
			cfg.OutboxBatchSize = c.Int("outbox-batch-size")
			cfg.OutboxRetention = c.Duration("outbox-retention")
			cfg.RetentionSchedule = c.String("retention-schedule")
			cfg.InboxSize = c.Int("inbox-size")

			lg, err := newLogger(c)
			if err != nil {
				return err
			}
			defer func() { _ = lg.Sync() }()

			server, closer, err := app.NewServer(ctx, cfg, lg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					lg.Error("close resources", zap.Error(closeErr))
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				lg.Info("listening", zap.String("addr", cfg.Addr))
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
			case sig := <-sigCh:
				lg.Info("received signal", zap.String("signal", sig.String()))
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Action: func(ctx context.Context, c *cli.Command) error {
			lg, err := newLogger(c)
			if err != nil {
				return err
			}
			defer func() { _ = lg.Sync() }()

			version, err := app.Migrate(ctx, databaseConfig(c))
			if err != nil {
				return err
			}
			lg.Info("database migrated", zap.Int64("version", version))
			return nil
		},
	}
}

func activityCommand() *cli.Command {
	return &cli.Command{
		Name:  "activity",
		Usage: "Print an owner's audit trail as JSON lines, oldest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Required: true, Usage: "Owner uid"},
			&cli.StringFlag{Name: "collection", Usage: "Only this collection"},
			&cli.StringFlag{Name: "record", Usage: "Only this record id"},
			&cli.StringFlag{Name: "action", Usage: "record.created, record.updated or record.deleted"},
			&cli.Int64Flag{Name: "after", Usage: "Start after this audit id"},
			&cli.IntFlag{Name: "batch", Value: 200, Usage: "Rows fetched per query"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			audit, closer, err := app.OpenAudit(ctx, databaseConfig(c))
			if err != nil {
				return err
			}
			defer closer.Close()

			enc := json.NewEncoder(os.Stdout)
			filter := domain.AuditFilter{
				OwnerID:    c.String("owner"),
				Collection: c.String("collection"),
				RecordID:   c.String("record"),
				Action:     c.String("action"),
				AfterID:    c.Int64("after"),
			}
			return audit.Walk(ctx, filter, c.Int("batch"), func(event domain.AuditTrailEvent) error {
				return enc.Encode(event)
			})
		},
	}
}

func databaseConfig(c *cli.Command) config.Config {
	cfg := config.Default()
	cfg.DBDriver = c.String("db-driver")
	cfg.DBPath = c.String("db-path")
	cfg.DatabaseURL = c.String("database-url")
	return cfg
}

func newLogger(c *cli.Command) (*zap.Logger, error) {
	lg, err := logger.New(c.String("log-level"), c.String("log-format"))
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	zap.ReplaceGlobals(lg)
	return lg, nil
}
