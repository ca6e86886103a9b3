package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/unranked/internal/adapter/discord"
	"github.com/pscheid92/unranked/internal/adapter/httpserver"
	"github.com/pscheid92/unranked/internal/adapter/memory"
	"github.com/pscheid92/unranked/internal/adapter/metrics"
	"github.com/pscheid92/unranked/internal/adapter/postgres"
	"github.com/pscheid92/unranked/internal/adapter/redis"
	"github.com/pscheid92/unranked/internal/app"
	"github.com/pscheid92/unranked/internal/domain"
	"github.com/pscheid92/unranked/internal/persistence"
	"github.com/pscheid92/unranked/internal/platform/config"
	"github.com/pscheid92/unranked/internal/platform/correlation"
	"github.com/pscheid92/unranked/internal/platform/logging"
	"github.com/pscheid92/unranked/internal/platform/version"
	"github.com/pscheid92/unranked/internal/schedule"
	"github.com/pscheid92/unranked/internal/unranked"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type storage struct {
	kv     domain.KVStore
	checks []httpserver.HealthCheck
	close  func()
}

type components struct {
	srv       *httpserver.Server
	engine    *unranked.Engine
	scheduler *schedule.Scheduler
	store     *persistence.Store
	storage   storage
	stopBeat  context.CancelFunc
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStorage(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) storage {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		redisMetrics := metrics.NewRedisMetrics(reg)
		breaker := redis.NewCircuitBreakerHook(redis.DefaultBreakerSettings, redisMetrics)
		client, err := redis.NewClient(ctx, cfg.RedisURL, redisMetrics, breaker)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		kv := redis.NewKVStore(client)
		return storage{
			kv:     kv,
			checks: []httpserver.HealthCheck{{Name: "redis", Check: kv.Ping}},
			close:  func() { _ = client.Close() },
		}

	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, metrics.NewDatabaseMetrics(reg))
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		kv := postgres.NewKVStore(pool)
		return storage{
			kv:     kv,
			checks: []httpserver.HealthCheck{{Name: "postgres", Check: kv.Ping}},
			close:  pool.Close,
		}

	default:
		slog.Warn("Using in-memory storage, state will not survive a restart")
		return storage{kv: memory.NewKVStore(), close: func() {}}
	}
}

func setupDiscord(cfg *config.Config, clock clockwork.Clock, reg prometheus.Registerer) *discord.Client {
	session, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		slog.Error("Failed to create Discord session", "error", err)
		os.Exit(1)
	}
	return discord.NewClient(session, discord.Options{
		GuildID:  cfg.RegistrationGuildID,
		SendRate: cfg.DiscordSendRate,
		Clock:    clock,
	}, metrics.NewPlatformMetrics(reg))
}

func announceStartup(ctx context.Context, cfg *config.Config, platform domain.PlatformClient, clock clockwork.Clock, lastHeartbeat domain.UnixTimestamp) {
	if cfg.ChannelBotStatusID == "" {
		return
	}
	msg := app.StartupMessage(version.Get(), clock.Now(), lastHeartbeat)
	if err := platform.SendMessage(ctx, cfg.ChannelBotStatusID, msg); err != nil {
		slog.WarnContext(ctx, "Failed to post startup message", "error", err)
	}
}

func runGracefulShutdown(c components) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		c.stopBeat()
		c.scheduler.Stop()
		c.engine.Stop()

		if err := c.store.Close(shutdownCtx); err != nil {
			slog.Error("Failed to flush pending writes", "error", err)
		}
		c.storage.close()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "storage", cfg.StorageBackend, "version", version.Get().String())

	reg := metrics.NewRegistry()

	ctx, cancel := context.WithTimeout(correlation.Ensure(context.Background()), startupTimeout)
	defer cancel()

	st := setupStorage(ctx, cfg, reg)
	store := persistence.NewStore(st.kv, persistence.DefaultMigrations(), metrics.NewPersistenceMetrics(reg))

	ideas := persistence.LoadOrDefault(ctx, store, domain.KeyIdeas, *unranked.NewIdeas())
	scores := persistence.LoadOrDefault(ctx, store, domain.KeyScores, *unranked.NewScores())
	tasks := persistence.LoadOrDefault(ctx, store, domain.KeyScheduledTasks, schedule.Tasks{})
	lastHeartbeat := persistence.LoadOrDefault(ctx, store, domain.KeyHeartbeat, domain.UnixTimestamp(0))

	engine := unranked.NewEngine(&ideas, &scores, store, metrics.NewEngineMetrics(reg))

	platform := setupDiscord(cfg, clock, reg)
	service := app.NewService(engine, platform, cfg.ChannelUnrankedID)

	scheduler := schedule.NewScheduler(clock, service, store, metrics.NewSchedulerMetrics(reg))
	dropped, err := scheduler.Hydrate(ctx, tasks)
	if err != nil {
		slog.Error("Failed to restore scheduled tasks", "error", err)
		os.Exit(1)
	}
	slog.Info("Scheduled tasks restored", "restored", len(tasks.Data)-dropped, "dropped", dropped)

	announceStartup(ctx, cfg, platform, clock, lastHeartbeat)

	beatCtx, stopBeat := context.WithCancel(context.Background())
	go app.NewHeartbeat(store, clock, cfg.HeartbeatInterval).Run(beatCtx)

	checks := append(st.checks, httpserver.HealthCheck{Name: "discord", Check: platform.Healthy})
	srv := httpserver.NewServer(cfg, engine, scheduler, service, checks, reg, metrics.NewHTTPMetrics(reg))

	done := runGracefulShutdown(components{
		srv:       srv,
		engine:    engine,
		scheduler: scheduler,
		store:     store,
		storage:   st,
		stopBeat:  stopBeat,
	})

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
