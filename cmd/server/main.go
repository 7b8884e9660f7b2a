package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/auth"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/config"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/engine"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/ratelimit"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/repository"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/store"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/timer"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/transport/rest"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/transport/ws"
)

func main() {
	_ = godotenv.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg := config.Load()
	ctx := context.Background()

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer mongoClient.Disconnect(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("failed to ping MongoDB")
	}
	cancel()
	log.Info().Msg("connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB)

	// Redis connection
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping Redis")
	}
	log.Info().Msg("connected to Redis")

	// Shared store and its views
	adapter := store.NewRedisAdapter(rdb, cfg.StoreTimeout)
	stateStore := store.NewStateStore(adapter, cfg.StateTTL)
	presence := store.NewPresenceStore(adapter, cfg.PresenceTTL)
	conns := store.NewConnStore(adapter, cfg.StateTTL)
	timerStore := store.NewTimerStore(adapter, cfg.StateTTL)
	limiter := ratelimit.New(adapter, ratelimit.DefaultQuotas())

	// Repositories
	sessionRepo := repository.NewSessionRepo(db)
	playerRepo := repository.NewPlayerRepo(db)
	itemRepo := repository.NewItemRepo(db)
	voteRepo := repository.NewVoteRepo(db)

	authSvc := auth.NewService(cfg.JWTSecret)

	timers := timer.NewEngine(timerStore, clockwork.NewRealClock())
	defer timers.Shutdown()
	if err := timers.Rehydrate(ctx); err != nil {
		log.Warn().Err(err).Msg("timer rehydration failed")
	}

	eng := engine.New(engine.Deps{
		Sessions:           sessionRepo,
		Players:            playerRepo,
		Items:              itemRepo,
		Votes:              voteRepo,
		State:              stateStore,
		Presence:           presence,
		Conns:              conns,
		Bus:                adapter,
		Limiter:            limiter,
		Timers:             timers,
		Auth:               authSvc,
		AgreementThreshold: cfg.AgreementThreshold,
	})

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go eng.Run(runCtx)

	hub := ws.NewHub(adapter)

	router := rest.NewRouter(&rest.Container{
		Sessions: sessionRepo,
		Players:  playerRepo,
		State:    stateStore,
		Auth:     authSvc,
		Engine:   eng,
		Hub:      hub,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen and serve")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}
