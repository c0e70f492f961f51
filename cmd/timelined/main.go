package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-pipeline/config"
	"github.com/d60-Lab/timeline-pipeline/internal/api"
	"github.com/d60-Lab/timeline-pipeline/internal/api/handler"
	"github.com/d60-Lab/timeline-pipeline/internal/cache"
	"github.com/d60-Lab/timeline-pipeline/internal/mute"
	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/internal/service"
	"github.com/d60-Lab/timeline-pipeline/internal/timeline"
	"github.com/d60-Lab/timeline-pipeline/pkg/database"
	"github.com/d60-Lab/timeline-pipeline/pkg/logger"
	"github.com/d60-Lab/timeline-pipeline/pkg/tracing"
)

const serviceName = "timelined"

func main() {
	var configPath string
	root := &cobra.Command{
		Use:   serviceName,
		Short: "Timeline ingestion pipeline daemon",
		Long: `timelined runs the status pipeline: statuses are persisted by the inbox,
filtered against mute and block settings by the broadcaster and delivered to
in-process timelines exposed over HTTP.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml, or $TIMELINE_CONFIG)")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(migrateCmd(&configPath))

	if err := root.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Service:    serviceName,
	})
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := database.InitDB(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)
			color.Green("schema migrated (%s)", cfg.Database.Driver)
			return nil
		},
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline and the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) (err error) {
	log := logger.Named("main")

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, shutdownTracing(context.Background()))
	}()

	hub, err := notify.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment)
	if err != nil {
		return errors.Wrap(err, "init sentry")
	}
	if hub != nil {
		defer sentry.Flush(cfg.Server.ShutdownTimeout)
	}
	reporter := notify.NewReporter(notify.Options{
		Logger:    logger.Named("notify"),
		Hub:       hub,
		History:   cfg.Pipeline.FailureHistory,
		PerSecond: cfg.Pipeline.FailureRate,
	})

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, user cache falls back to the database", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer rdb.Close()
	}
	users, err := cache.NewUserCache(repository.NewUserRepository(db), cache.Options{
		Size:  cfg.Pipeline.UserCacheSize,
		Redis: rdb,
		TTL:   cfg.Redis.TTL,
	})
	if err != nil {
		return err
	}

	statuses := repository.NewStatusStore(db)
	follows := repository.NewFollowRepository(db)
	p := service.NewPipeline(service.PipelineDeps{
		Statuses: statuses,
		Accounts: repository.NewAccountRepository(db),
		Blocks:   repository.NewBlockRepository(db),
		Follows:  follows,
		Users:    users,
		Mutes:    mute.NewStore(mute.FromConfig(cfg.Mute)),
		Sink:     reporter,
	}, service.PipelineOptions{
		Retry:            service.RetryPolicy{Tries: cfg.Pipeline.RetryTries, Initial: cfg.Pipeline.RetryInitial},
		InteractionQueue: cfg.Pipeline.InteractionQueue,
	})

	registry := timeline.NewRegistry(timeline.RegistryDeps{
		Statuses:  statuses,
		Follows:   follows,
		Oracle:    p.Oracle,
		Point:     p.Broadcaster.Point(),
		Relations: p.Relations,
	}, timeline.Options{
		PageSize:      cfg.Timeline.PageSize,
		ChunkSize:     cfg.Timeline.ChunkSize,
		BounceMargin:  cfg.Timeline.BounceMargin,
		DebounceDelay: cfg.Timeline.DebounceDelay,
		AutoTrim:      cfg.Timeline.AutoTrim,
	})

	// 工作协程不跟随信号 ctx，停机时由 Stop 排空队列
	p.Start(context.Background())

	router := api.NewRouter(cfg.Server, handler.New(p, registry, reporter), logger.Named("http"))
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	color.Cyan("%s listening on %s (db=%s, redis=%t)", serviceName, addr, cfg.Database.Driver, rdb != nil)
	log.Info("server started", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		color.Yellow("\nshutting down...")
	case err, ok := <-errCh:
		if ok {
			color.Red("server error: %v", err)
			err = errors.Wrap(err, "listen")
			return multierr.Append(err, shutdown(srv, p, registry, cfg))
		}
	}
	if err := shutdown(srv, p, registry, cfg); err != nil {
		return err
	}
	color.Green("stopped gracefully")
	return nil
}

// shutdown 先停 HTTP 入口，再排空流水线，最后释放时间线
func shutdown(srv *http.Server, p *service.Pipeline, registry *timeline.Registry, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	err = multierr.Append(err, p.Stop(ctx))
	registry.Close()
	return errors.Wrap(err, "shutdown")
}
