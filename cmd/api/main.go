package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-walkguard/internal/config"
	"backend-walkguard/internal/db"
	"backend-walkguard/internal/logger"
	"backend-walkguard/internal/notify"
	"backend-walkguard/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	setupLogger     func(config.Config) *logrus.Logger
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	migrate         func(context.Context, db.Querier) error
	connectRedis    func(config.Config) *redis.Client
	dialBroker      func(url, exchange string) (*notify.AMQPPublisher, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, notify.Publisher, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		setupLogger:     logger.Setup,
		connectPostgres: db.ConnectPostgres,
		migrate:         db.Migrate,
		connectRedis:    db.ConnectRedis,
		dialBroker:      notify.DialAMQP,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	log := deps.setupLogger(cfg)

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.WithError(err).Error("postgres connection failed")
	} else if cfg.RunMigrations {
		if err := deps.migrate(context.Background(), pg); err != nil {
			log.WithError(err).Error("migrations failed")
		}
	}

	rdb := deps.connectRedis(cfg)

	var pub notify.Publisher = notify.LogPublisher{}
	if cfg.AMQPURL != "" {
		broker, err := deps.dialBroker(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.WithError(err).Warn("broker unavailable, notifications go to the log")
		} else {
			defer broker.Close()
			pub = broker
		}
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, pub, signals, nil); err != nil {
		log.WithError(err).Error("server exited with error")
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and the notification worker and waits for
// termination signals. Queued notifications are flushed before returning.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, pub notify.Publisher, signals <-chan os.Signal, listen ListenFunc) error {
	var q db.TxQuerier
	if pg != nil {
		q = pg
	}
	srv, err := server.NewServer(cfg, q, rdb, pub)
	if err != nil {
		return err
	}

	notifyCtx, stopNotify := context.WithCancel(context.Background())
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		srv.Notifier.Run(notifyCtx)
	}()
	defer func() {
		stopNotify()
		<-notifyDone
		srv.Stream.Close()
		if pg != nil {
			pg.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
	}()

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return shutdownFn(srv.App, shutdownCtx)
}
