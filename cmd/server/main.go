package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"folio/internal/audit"
	jwttoken "folio/internal/jwt_token"
	"folio/internal/platform/config"
	"folio/internal/platform/httpserver"
	"folio/internal/platform/logger"
	platformredis "folio/internal/platform/redis"
	profilestore "folio/internal/profile/store/profile"
	versionstore "folio/internal/profile/store/version"
	"folio/internal/review/handler"
	"folio/internal/review/metrics"
	"folio/internal/review/questionnaire"
	"folio/internal/review/service"
	"folio/pkg/platform/middleware/observe"
	requestmw "folio/pkg/platform/middleware/request"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	var (
		versions service.VersionStore
		inner    profilestore.Store
		ownerTx  service.OwnerTx
		pool     *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to postgres", "error", err)
			return err
		}
		defer pool.Close()
		if cfg.AutoMigrate {
			if err := runMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
				log.Error("failed to run migrations", "error", err)
				return err
			}
		}
		versions = versionstore.NewPostgres(pool)
		inner = profilestore.NewPostgres(pool)
		ownerTx = newPostgresOwnerTx(pool)
		log.Info("using postgres storage")
	} else {
		versions = versionstore.NewInMemory()
		inner = profilestore.NewInMemory()
		ownerTx = service.NewInMemoryOwnerTx()
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return err
	}
	var profiles service.ProfileStore = inner
	if redisClient != nil {
		defer redisClient.Close()
		profiles = profilestore.NewCached(inner, redisClient.Client, cfg.Redis.ProfileTTL, log)
		log.Info("profile read cache enabled")
	}

	// Audit events go to Kafka via a background worker when brokers are
	// configured; otherwise they are kept in process for inspection.
	var (
		auditPublisher service.AuditPublisher
		auditWorker    *audit.Worker
	)
	kafkaStore, err := audit.NewKafkaStore(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		log.Error("failed to connect audit kafka sink", "error", err)
		return err
	}
	if kafkaStore != nil {
		defer kafkaStore.Close()
		inbox := make(chan audit.Event, 256)
		auditWorker = audit.NewWorker(kafkaStore, inbox)
		auditPublisher = asyncAuditPublisher(inbox)
		log.Info("audit kafka sink enabled", "topic", cfg.Kafka.Topic)
	} else {
		auditPublisher = audit.NewPublisher(audit.NewInMemoryStore())
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditPublisher(auditPublisher),
	}
	if cfg.QuestionnairePath != "" {
		schema, err := questionnaire.LoadSchema(cfg.QuestionnairePath)
		if err != nil {
			log.Error("failed to load questionnaire schema", "error", err)
			return err
		}
		opts = append(opts, service.WithQuestionnaire(questionnaire.New(schema)))
	}
	workflow := service.New(versions, profiles, ownerTx, opts...)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "folio", "folio-api")
	tokenValidator := jwttoken.NewJWTServiceAdapter(jwtService)

	router := chi.NewRouter()
	router.Use(requestmw.ID)
	router.Use(requestmw.Time)
	router.Use(observe.Recovery(log))
	router.Use(observe.Logger(log))
	router.Get("/healthz", healthz(pool, redisClient))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	handler.NewHandler(workflow, tokenValidator, log).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if auditWorker != nil {
		g.Go(func() error {
			if err := auditWorker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}

// asyncAuditPublisher pushes events onto the worker inbox without blocking
// request handling. A full inbox drops the event rather than stalling the
// workflow.
type asyncAuditPublisher chan audit.Event

func (in asyncAuditPublisher) Emit(_ context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case in <- event:
		return nil
	default:
		return errors.New("audit inbox full, event dropped")
	}
}

func healthz(pool *pgxpool.Pool, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
