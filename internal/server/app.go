// Package server initializes and runs the vault daemon.
// It opens the record store, connects the optional NATS bridge and S3
// backups, starts the idle locker and serves the HTTP API until a signal
// arrives.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/medvault/internal/api"
	"github.com/dmitrijs2005/medvault/internal/backup"
	"github.com/dmitrijs2005/medvault/internal/config"
	"github.com/dmitrijs2005/medvault/internal/events"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/mail"
	"github.com/dmitrijs2005/medvault/internal/session"
	"github.com/dmitrijs2005/medvault/internal/store"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	store    store.Store
	bus      *events.Bus
	nats     *events.NATSBridge
	registry *session.Registry
	backups  api.Backups
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Backend: c.Logging.Backend,
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	app := &App{config: c, logger: logger, store: st, bus: events.NewBus(logger)}

	if c.NATS.URL != "" {
		nb, err := events.ConnectNATS(c.NATS.URL, c.NATS.SubjectPrefix, logger)
		if err != nil {
			app.close()
			return nil, err
		}
		app.nats = nb
	}

	if c.S3.Bucket != "" {
		client, err := backup.NewS3Client(ctx, c.S3)
		if err != nil {
			app.close()
			return nil, err
		}
		svc, err := backup.NewService(client, st, c.S3.Bucket, c.S3.Prefix, logger)
		if err != nil {
			app.close()
			return nil, err
		}
		app.backups = svc
	}

	deps := session.Deps{
		Store:  st,
		Mailer: mail.New(c.Mail, logger),
		Events: app.bus,
		Log:    logger,
	}
	app.registry = session.NewRegistry(deps, session.OptionsFromConfig(c.Vault))

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := api.NewServer(app.config.HTTP, app.logger, app.registry, app.backups)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until ctx is cancelled, a termination signal arrives or the
// HTTP server fails. Every open vault is locked on the way out.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.registry.RunIdleLocker(ctx, app.config.Vault.IdleCheck.Duration)
	}()

	if app.nats != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.nats.Run(ctx, app.bus)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.registry.CloseAll()
	app.close()
	app.logger.Info(context.Background(), "App stopped")
}

func (app *App) close() {
	ctx := context.Background()
	if app.nats != nil {
		if err := app.nats.Close(); err != nil {
			app.logger.Warn(ctx, "NATS close failed", "error", err)
		}
	}
	app.bus.Close()
	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "store close failed", "error", err)
	}
}
