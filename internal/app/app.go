package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fuelwatcher/internal/backup"
	"fuelwatcher/internal/cache"
	"fuelwatcher/internal/config"
	"fuelwatcher/internal/detector"
	"fuelwatcher/internal/notifier"
	"fuelwatcher/internal/scheduler"
	"fuelwatcher/internal/service"
	"fuelwatcher/internal/source"
	"fuelwatcher/internal/storage"
	"fuelwatcher/internal/web"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	gate *storage.Gate
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		gate:   storage.NewGate(),
	}
}

func (a *App) newSource() *source.Client {
	return source.New(source.Options{
		BaseURL:      a.Config.Source.BaseURL,
		Timeout:      a.Config.Source.RequestTimeout,
		UserAgent:    a.Config.Source.UserAgent,
		PerStation:   a.Config.Source.PerStation,
		FetchWorkers: a.Config.Source.FetchWorkers,
	}, a.Logger)
}

func (a *App) newNotifier() (notifier.Notifier, error) {
	if !a.Config.MQTT.Enabled {
		return nil, nil
	}
	cfg := a.Config.MQTT
	return notifier.NewMQTT(notifier.Options{
		Broker:          cfg.Broker,
		Username:        cfg.Username,
		Password:        cfg.Password,
		ClientID:        cfg.ClientID,
		TopicPrefix:     cfg.TopicPrefix,
		DiscoveryPrefix: cfg.DiscoveryPrefix,
		ConnectTimeout:  cfg.ConnectTimeout,
		PublishTimeout:  cfg.PublishTimeout,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(store *storage.Store, n notifier.Notifier, metrics *web.Metrics) *service.Service {
	priceCache := cache.New()
	det := detector.New(store, priceCache, a.Logger)

	var locker storage.AdvisoryLocker
	if store != nil {
		locker = store
	}

	return service.New(
		a.newSource(),
		det,
		priceCache,
		a.Config,
		n,
		locker,
		a.gate,
		metrics,
		a.Config.Schedule.AdvisoryLockKey,
		a.Logger,
	)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the change log needs a store")
	}
	defer closeStore()

	n, err := a.newNotifier()
	if err != nil {
		return err
	}
	if n != nil {
		defer n.Close()
	}

	var metrics *web.Metrics
	if a.Config.Web.Enabled {
		metrics = web.NewMetrics()
	}

	svc := a.newService(store, n, metrics)
	if err := svc.Reconcile(ctx); err != nil {
		return err
	}

	spec, err := scheduler.NewSpec(a.Config.Schedule, time.Now())
	if err != nil {
		return err
	}
	sched := scheduler.New(spec, a.Config.Schedule.RunOnStart, a.Logger)

	if a.Config.Web.Enabled {
		server := web.NewServer(a.Config.Web.Addr, sched, store, a.Logger)
		go func() {
			if err := server.Start(); err != nil {
				a.Logger.Error().Err(err).Msg("status server failed")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	a.Logger.Info().Msg("starting monitoring service")
	err = sched.Run(ctx, svc.RunPass)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Once runs exactly one pass and terminates, bypassing the timer entirely.
func (a *App) Once(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the change log needs a store")
	}
	defer closeStore()

	n, err := a.newNotifier()
	if err != nil {
		return err
	}
	if n != nil {
		defer n.Close()
	}

	svc := a.newService(store, n, nil)
	if err := svc.Reconcile(ctx); err != nil {
		return err
	}

	a.Logger.Info().Msg("running single pass")
	return svc.RunPass(ctx, time.Now())
}

// Backup snapshots the store through the external backup tool.
func (a *App) Backup(ctx context.Context) (backup.Archive, error) {
	orch := backup.New(a.Config.Backup, a.Config.Database.DSN, backup.ExecRunner{}, a.gate, nil, 0, a.Logger)
	return orch.Backup(ctx)
}

// Restore replaces the store's content from an archive. The store is opened
// so the orchestrator can take the schedule advisory lock and refuse to run
// while a daemon in another process is mid-pass.
func (a *App) Restore(ctx context.Context, archivePath string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	var locker storage.AdvisoryLocker
	if store != nil {
		defer closeStore()
		locker = store
	}

	orch := backup.New(a.Config.Backup, a.Config.Database.DSN, backup.ExecRunner{}, a.gate, locker, a.Config.Schedule.AdvisoryLockKey, a.Logger)
	return orch.Restore(ctx, archivePath)
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	StationID int
	FuelType  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
