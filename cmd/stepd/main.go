package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/steptracker/internal/api"
	"example.com/steptracker/internal/auth"
	"example.com/steptracker/internal/broadcast"
	"example.com/steptracker/internal/calendar"
	"example.com/steptracker/internal/config"
	"example.com/steptracker/internal/consumer"
	"example.com/steptracker/internal/domain"
	"example.com/steptracker/internal/location"
	"example.com/steptracker/internal/notify"
	"example.com/steptracker/internal/persistence/memory"
	"example.com/steptracker/internal/persistence/postgres"
	"example.com/steptracker/internal/persistence/sqlite"
	"example.com/steptracker/internal/scheduler"
	"example.com/steptracker/internal/tracker"
	httptransport "example.com/steptracker/internal/transport/http"
)

// CLI is the stepd command line. Defaults come from the environment via config.Load.
type CLI struct {
	Verbose     bool   `short:"v" help:"Enable debug logging."`
	StoreDriver string `help:"Daily record store (sqlite, postgres, memory)." default:"${store_driver}" enum:"sqlite,postgres,memory"`
	SQLitePath  string `help:"SQLite preferences file." default:"${sqlite_path}" type:"path"`

	Run    RunCmd    `cmd:"" default:"1" help:"Track steps and location until interrupted."`
	Status StatusCmd `cmd:"" help:"Print the stored step total for today."`
	Reset  ResetCmd  `cmd:"" help:"Overwrite the stored record with zero steps for today."`
}

// RunCmd starts the long-lived tracker.
type RunCmd struct {
	HTTPAddress string `help:"HTTP listen address." default:"${http_address}"`
	NoAutostart bool   `help:"Wait for POST /v1/tracking/start instead of tracking immediately."`
}

// StatusCmd prints today's stored record.
type StatusCmd struct{}

// ResetCmd zeroes today's stored record.
type ResetCmd struct{}

type appContext struct {
	cfg    config.Config
	cli    *CLI
	logger *zap.Logger
}

func main() {
	cfg := config.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("stepd"),
		kong.Description("Daily step counter and location tracker."),
		kong.Vars{
			"store_driver": cfg.StoreDriver,
			"sqlite_path":  cfg.SQLitePath,
			"http_address": cfg.HTTPAddress,
		},
	)
	cfg.StoreDriver = cli.StoreDriver
	cfg.SQLitePath = cli.SQLitePath

	logger, err := newLogger(cli.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	err = kctx.Run(&appContext{cfg: cfg, cli: &cli, logger: logger})
	kctx.FatalIfErrorf(err)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

// Run implements the run command.
func (c *RunCmd) Run(app *appContext) error {
	cfg := app.cfg
	cfg.HTTPAddress = c.HTTPAddress
	logger := app.logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeRepo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	hub := broadcast.NewHub(broadcast.WithLogger(logger.Named("broadcast")))
	defer hub.Close()

	presence, closePresence := openPresence(ctx, cfg, logger)
	defer closePresence()

	var (
		producer *broadcast.KafkaProducer
		ctrlOpts []tracker.ControllerOption
		wg       sync.WaitGroup
	)
	request := location.Request{
		Interval:        cfg.LocationInterval,
		FastestInterval: cfg.LocationFastestInterval,
		Priority:        location.PriorityHighAccuracy,
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer = broadcast.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		ctrlOpts = append(ctrlOpts, tracker.WithSourceControl(
			consumer.NewDeviceControl(producer, cfg.ControlTopic, cfg.UserID), request))
	}

	clock := calendar.SystemClock{}
	factory := func() *tracker.Tracker {
		return tracker.New(repo, hub, presence,
			tracker.WithClock(clock),
			tracker.WithLogger(logger.Named("tracker")))
	}
	controller := tracker.NewController(factory, logger.Named("controller"), ctrlOpts...)

	sched, err := scheduler.New(controller, time.Local, logger.Named("scheduler"))
	if err != nil {
		return err
	}
	if err := sched.ScheduleDateChecks(cfg.DateCheckInterval); err != nil {
		return err
	}
	sched.Start()

	if producer != nil {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.KafkaBrokers,
			GroupID:        cfg.ConsumerGroup,
			Topic:          cfg.IngestTopic,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
		})
		proc := consumer.NewProcessor(reader, consumer.NewTrackerHandler(controller),
			consumer.WithLogger(logger.Named("ingest")))

		wg.Add(2)
		go func() {
			defer wg.Done()
			defer reader.Close()
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("ingest stopped", zap.String("topic", cfg.IngestTopic), zap.Error(err))
			}
		}()
		go func() {
			defer wg.Done()
			broadcast.Forward(ctx, hub, "kafka", broadcast.NewKafkaSink(producer, cfg.UpdatesTopic), logger.Named("forward"))
		}()
	}

	handler := api.NewHandler(ctx, controller, repo, clock,
		broadcast.NewStreamHandler(hub, logger.Named("stream")))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		auth.SkipPaths("/healthz", "/metrics"),
	)
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:     cfg.HTTPAddress,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}, authMiddleware.Wrap(requestLogger(logger.Named("http"), mux)))

	if !c.NoAutostart {
		controller.Start(ctx)
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("stepd listening", zap.String("address", cfg.HTTPAddress), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			shutdownCh <- syscall.SIGTERM
		}
	}()

	<-shutdownCh
	logger.Info("stepd shutting down")

	controller.Stop()
	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler shutdown failed", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	wg.Wait()
	return nil
}

// Run implements the status command.
func (c *StatusCmd) Run(app *appContext) error {
	ctx := context.Background()
	repo, closeRepo, err := openStore(ctx, app.cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	record, found, err := repo.Load(ctx)
	if err != nil {
		return err
	}
	today := calendar.Today(calendar.SystemClock{})
	out := domain.DailyStepRecord{Date: today}
	if found && calendar.SameDay(record.Date, today) {
		out.Steps = record.Steps
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Run implements the reset command.
func (c *ResetCmd) Run(app *appContext) error {
	ctx := context.Background()
	repo, closeRepo, err := openStore(ctx, app.cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	record := domain.DailyStepRecord{Date: calendar.Today(calendar.SystemClock{}), Steps: 0}
	if err := repo.Save(ctx, record); err != nil {
		return err
	}
	app.logger.Info("daily record reset", zap.String("date", record.Date))
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (domain.StepRepository, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return postgres.NewRepository(pool, cfg.UserID), pool.Close, nil
	case config.StoreMemory:
		return memory.NewStore(), func() {}, nil
	default:
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}

func openPresence(ctx context.Context, cfg config.Config, logger *zap.Logger) (*notify.Presence, func()) {
	opts := []notify.Option{notify.WithLogger(logger.Named("notify"))}
	if cfg.NATSURL != "" {
		backend, err := notify.NewKVBackend(ctx, cfg.NATSURL, cfg.PresenceBucket)
		if err == nil {
			return notify.NewPresence(backend, opts...), func() { _ = backend.Close() }
		}
		logger.Warn("NATS presence unavailable, falling back to log", zap.Error(err))
	}
	return notify.NewPresence(notify.NewLogBackend(logger.Named("notification")), opts...), func() {}
}

func requestLogger(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}
