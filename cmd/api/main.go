package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"survey-caller/internal/audit"
	"survey-caller/internal/auth"
	"survey-caller/internal/callflow"
	"survey-caller/internal/calls"
	"survey-caller/internal/config"
	"survey-caller/internal/correlation"
	"survey-caller/internal/dispatch"
	"survey-caller/internal/questions"
	"survey-caller/internal/records"
	"survey-caller/internal/reporting"
	"survey-caller/pkg/logger"
	"survey-caller/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// app holds the wired services shared by the route groups.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	auth    *auth.Manager
	keys    *auth.KeyStore
	engine  *callflow.Engine
	records records.Gateway
	reports *reporting.Service
	webhook *audit.Service
	presets *questions.Presets

	db  *sql.DB
	rdb *redis.Client
}

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := build(rootCtx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.close()

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Call.SweepSchedule, func() {
		if n := a.engine.Sweep(rootCtx); n > 0 {
			log.Info("correlation sweep", "evicted", n)
		}
	}); err != nil {
		log.Error("invalid sweep schedule", "schedule", cfg.Call.SweepSchedule, "err", err)
		os.Exit(1)
	}
	sweeper.Start()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, a)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: media stream websockets live as long as the call.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "default_backend", a.engine.DefaultBackend())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	<-sweeper.Stop().Done()
	log.Info("shutdown complete")
}

// build opens the optional stores and wires the services. Postgres and Redis are
// used when configured; otherwise everything lives in process memory.
func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	var err error

	if a.auth, err = auth.NewManager(cfg.Auth); err != nil {
		return nil, err
	}
	a.keys = auth.NewKeyStore(cfg.Auth)

	auditRepo := audit.Repository(audit.NewMemoryRepo())
	if cfg.DB.Enabled() {
		a.db, err = utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, err
		}
		if err := records.Migrate(ctx, a.db); err != nil {
			a.close()
			return nil, err
		}
		a.records = records.NewPostgresGateway(a.db)
		auditRepo = audit.NewPostgresRepo(a.db)
		log.Info("postgres connected", "host", cfg.DB.Host, "db", cfg.DB.Name)
	} else {
		a.records = records.NewMemoryRepo()
		log.Warn("DB_HOST not set, call records kept in memory")
	}
	a.webhook = audit.NewService(auditRepo, log)

	store := correlation.Store(correlation.NewMemoryStore())
	limiter := dispatch.Limiter(dispatch.NewMemoryLimiter(cfg.Call.MaxConcurrent))
	if cfg.Redis.Enabled() {
		a.rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			a.close()
			return nil, err
		}
		store = correlation.NewRedisStore(a.rdb, "survey:")
		if cfg.Call.MaxConcurrent > 0 {
			limiter = dispatch.NewRedisLimiter(a.rdb, cfg.Call.MaxConcurrent, time.Hour)
		}
		log.Info("redis connected", "addr", cfg.RedisAddr())
	}

	last, err := a.records.LastCallID(ctx)
	if err != nil {
		log.Warn("last call id lookup failed, seeding from clock", "err", err)
	}
	last = calls.SeedAfter(last, time.Now())

	agent := dispatch.NewAgentClient(dispatch.AgentConfig{
		APIKey:        cfg.VoiceAgent.APIKey,
		AgentID:       cfg.VoiceAgent.AgentID,
		PhoneNumberID: cfg.VoiceAgent.PhoneNumberID,
		BaseURL:       cfg.VoiceAgent.BaseURL,
	})

	a.engine = callflow.New(callflow.Options{
		Cache:           correlation.NewCache(store, a.records, cfg.Call.CacheGrace).WithMaxAge(cfg.Call.CacheMaxAge),
		Records:         a.records,
		Dispatchers:     dispatchers(cfg, agent),
		Limiter:         limiter,
		IDs:             calls.NewSequence(last),
		DispatchTimeout: cfg.Call.DispatchTimeout,
		DefaultBackend:  calls.Backend(cfg.Call.DefaultBackend),
		Logger:          log,
	})
	a.reports = reporting.NewService(a.records, a.engine)

	if cfg.Call.QuestionSetsFile != "" {
		if a.presets, err = questions.LoadPresets(cfg.Call.QuestionSetsFile); err != nil {
			a.close()
			return nil, err
		}
		log.Info("question sets loaded", "count", len(a.presets.List()))
	}
	return a, nil
}

// dispatchers registers every backend whose credentials are present. Demo is always on.
func dispatchers(cfg config.Config, agent *dispatch.AgentClient) dispatch.Registry {
	ds := []dispatch.Dispatcher{dispatch.DemoDispatcher{}}
	if cfg.Twilio.Configured() && cfg.App.PublicBaseURL != "" {
		api := dispatch.NewTwilioREST(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
		tc := dispatch.TwilioConfig{FromNumber: cfg.Twilio.FromNumber, PublicBaseURL: cfg.App.PublicBaseURL}
		ds = append(ds, dispatch.NewTwilioDispatcher(api, tc))
		if agent.Configured() {
			ds = append(ds, dispatch.NewStreamDispatcher(api, tc, agent))
		}
	}
	if agent.Configured() {
		ds = append(ds, dispatch.NewVoiceAgentDispatcher(agent))
	}
	return dispatch.NewRegistry(ds...)
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
