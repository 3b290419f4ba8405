package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fjod/qr_order/internal/backend"
	"github.com/fjod/qr_order/internal/cache"
	"github.com/fjod/qr_order/internal/config"
	"github.com/fjod/qr_order/internal/events"
	opsgrpc "github.com/fjod/qr_order/internal/grpc"
	h "github.com/fjod/qr_order/internal/http"
	"github.com/fjod/qr_order/internal/persistence"
	"github.com/fjod/qr_order/internal/repository"
	"github.com/fjod/qr_order/internal/service"
	"github.com/fjod/qr_order/pkg/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const purgeInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("qr-order", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("qr-order stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	carts := persistence.New(store.backend, log.Named("persistence"), persistence.WithTTL(cfg.CartTTL))
	api := backend.NewClient(cfg.BackendURL, backend.WithTimeout(cfg.BackendTimeout))

	var publisher events.Publisher = events.Nop{}
	var kafkaPublisher *events.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher = events.NewKafkaPublisher(cfg.Kafka.Topic, cfg.Kafka.Brokers, events.WithLogger(log.Named("events")))
		publisher = kafkaPublisher
		log.Info("publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	svcCfg := service.DefaultConfig()
	svcCfg.IdleTTL = cfg.SessionIdleTTL
	svcCfg.SubmitTimeout = cfg.SubmitTimeout
	svcCfg.LookupTimeout = cfg.BackendTimeout
	svcCfg.Policy = cfg.TipPolicy()
	tables := service.NewTableService(carts, api, api,
		service.WithConfig(svcCfg),
		service.WithPublisher(publisher),
		service.WithLogger(log.Named("tables")),
	)
	defer tables.Close()

	router := h.NewRouter(h.RouterConfig{
		Tables:         tables,
		Resolver:       api,
		Health:         carts.Ping,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         log.Named("http"),
	})
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "qr-order"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.SubmitTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ops := opsgrpc.NewOpsServer(carts.Ping, 0, log.Named("grpc"))
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc ops server listening", zap.String("port", cfg.GRPCPort))
		if err := ops.Server().Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ops.Watch(gctx)
		return nil
	})
	if kafkaPublisher != nil {
		g.Go(func() error {
			kafkaPublisher.Run(gctx)
			return kafkaPublisher.Close()
		})
	}
	if store.purge != nil {
		g.Go(func() error {
			store.purge(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		ops.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("qr-order stopped")
	return err
}

type cartStore struct {
	backend persistence.Backend
	purge   func(ctx context.Context)
}

// openStore connects the configured cart backend. The returned func releases
// its connection.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (cartStore, func(), error) {
	switch cfg.CartStore {
	case config.StoreRedis:
		client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return cartStore{}, nil, err
		}
		log.Info("cart store: redis", zap.String("addr", cfg.Redis.Addr))
		return cartStore{backend: cache.NewRedisBackend(client)}, func() { _ = client.Close() }, nil

	case config.StoreMongo:
		db, err := repository.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.DBName)
		if err != nil {
			return cartStore{}, nil, err
		}
		mongoBackend := repository.NewMongoBackend(db)
		if err := mongoBackend.CreateIndexes(ctx); err != nil {
			_ = db.Client().Disconnect(context.Background())
			return cartStore{}, nil, err
		}
		log.Info("cart store: mongo", zap.String("db", cfg.Mongo.DBName))
		return cartStore{backend: mongoBackend}, func() { _ = db.Client().Disconnect(context.Background()) }, nil

	case config.StorePostgres:
		port, err := strconv.Atoi(cfg.Postgres.Port)
		if err != nil {
			return cartStore{}, nil, fmt.Errorf("invalid postgres port %q: %w", cfg.Postgres.Port, err)
		}
		db, err := repository.ConnectPostgres(ctx, repository.Credentials{
			Host:     cfg.Postgres.Host,
			Port:     port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.Name,
		})
		if err != nil {
			return cartStore{}, nil, err
		}
		pg := repository.NewPostgresBackend(db)
		if err := pg.RunMigrations(); err != nil {
			_ = pg.Close()
			return cartStore{}, nil, err
		}
		log.Info("cart store: postgres", zap.String("host", cfg.Postgres.Host), zap.String("db", cfg.Postgres.Name))
		return cartStore{backend: pg, purge: purgeLoop(pg, log)}, func() { _ = pg.Close() }, nil

	default:
		log.Info("cart store: memory")
		return cartStore{backend: persistence.NewMemoryBackend()}, func() {}, nil
	}
}

// purgeLoop removes expired rows, which postgres does not expire on its own.
func purgeLoop(pg *repository.PostgresBackend, log *zap.Logger) func(ctx context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := pg.PurgeExpired(ctx)
				if err != nil {
					log.Warn("failed to purge expired carts", zap.Error(err))
					continue
				}
				if n > 0 {
					log.Info("purged expired carts", zap.Int64("count", n))
				}
			}
		}
	}
}
