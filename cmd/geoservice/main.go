package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/seantiz/geoservice/internal/api"
	"github.com/seantiz/geoservice/internal/cache"
	"github.com/seantiz/geoservice/internal/config"
	"github.com/seantiz/geoservice/internal/output"
	"github.com/seantiz/geoservice/internal/scheduler"
	"github.com/seantiz/geoservice/internal/session"
	"github.com/seantiz/geoservice/internal/store"
	"github.com/seantiz/geoservice/internal/ticket"
	"github.com/seantiz/geoservice/internal/transform"
	"github.com/seantiz/geoservice/internal/transform/command"
)

const drainTimeout = 5 * time.Minute

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("geoservice: %v", err)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("geoservice", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file (default $GEOSERVICE_CONFIG)")
	listenAddr := flags.String("listen", "", "HTTP listen address")
	storeDriver := flags.String("store", "", "ticket store driver: sqlite or postgres")
	engineBinary := flags.String("engine", "", "geometry engine binary")
	logLevel := flags.String("log-level", "", "log level: debug, info, warn, error")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = *listenAddr
	}
	if flags.Changed("store") {
		cfg.StoreDriver = *storeDriver
	}
	if flags.Changed("engine") {
		cfg.EngineBinary = *engineBinary
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.EngineBinary == "" {
		return fmt.Errorf("%w: engine binary is required", config.ErrInvalid)
	}

	logger := config.NewLogger(os.Stdout, cfg.Level())
	logger.Info("geoservice: starting",
		"listen_addr", cfg.ListenAddr,
		"store", cfg.StoreDriver,
		"engine", cfg.EngineBinary,
	)

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var tickets store.Store = st
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, cache reads will fall through", "error", err)
		}
		tickets = cache.NewTicketStore(st, rc, cfg.CacheTTL, logger)
	}

	for _, dir := range []string{cfg.WorkingDir, cfg.InputDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	sessions := session.NewManager(cfg.WorkingDir, logger)
	materializer := output.NewMaterializer(cfg.OutputDir, cfg.PublicBaseURL)
	engine := command.New(cfg.EngineBinary, cfg.EngineArgs, nil)

	sched := scheduler.New(scheduler.Config{QueueCapacity: cfg.QueueCapacity}, scheduler.Deps{
		Store:    tickets,
		Invoker:  transform.NewInvoker(engine, logger),
		Sessions: sessions,
		Output:   materializer,
		Logger:   logger,
	})

	srv := api.NewServer(api.Options{
		Addr:        cfg.ListenAddr,
		InputDir:    cfg.InputDir,
		CORSOrigins: cfg.CORSOrigins,
	}, api.Deps{
		Store:     tickets,
		Resolver:  ticket.NewResolver(tickets),
		Sessions:  sessions,
		Scheduler: sched,
		Output:    materializer,
		Logger:    logger,
	})

	runErr := srv.Run()
	drain(sched, logger)
	return runErr
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		pool, err := store.Connect(ctx, store.PostgresConfig{
			URL:             cfg.DatabaseURL,
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return store.NewPostgresStore(pool), nil
	default:
		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return db, nil
	}
}

// drain waits for queued jobs to finish so every admitted ticket is finalized.
func drain(sched *scheduler.Scheduler, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := sched.Shutdown(ctx); err != nil {
		logger.Error("job queue not drained", "error", err)
		return
	}
	logger.Info("job queue drained")
}
