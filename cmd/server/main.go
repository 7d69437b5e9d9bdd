package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatline/chat-server/internal/auth"
	"github.com/chatline/chat-server/internal/config"
	"github.com/chatline/chat-server/internal/database"
	"github.com/chatline/chat-server/internal/eventbus"
	"github.com/chatline/chat-server/internal/handler"
	"github.com/chatline/chat-server/internal/jobs"
	"github.com/chatline/chat-server/internal/metrics"
	"github.com/chatline/chat-server/internal/middleware"
	"github.com/chatline/chat-server/internal/redis"
	"github.com/chatline/chat-server/internal/repository"
	"github.com/chatline/chat-server/internal/service"
	"github.com/chatline/chat-server/internal/session"
	"github.com/chatline/chat-server/internal/storage"
	"github.com/chatline/chat-server/internal/token"
	"github.com/chatline/chat-server/internal/ws"
)

const (
	signupLimitPerHour   = 20
	refreshLimitPerMin   = 30
	corsMaxAgeSeconds    = 300
	unauthenticatedLimit = middleware.DefaultMaxBodySize
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	blobs, err := storage.NewLocalStore(cfg.StorageDir, cfg.FilesURL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open blob storage")
	}

	sessions := session.NewStore(
		token.NewCodec(cfg.JWTSecret, cfg.AccessTokenTTL),
		session.NewRedisRefreshStore(redisClient.Client),
		cfg.RefreshTokenTTL,
	)
	strategy := auth.NewStrategy(sessions)
	bus := eventbus.New()

	userRepo := repository.NewUserRepository(db.DB)
	chatRepo := repository.NewChatRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)
	fileRepo := repository.NewFileRepository(db.DB)

	attempts := service.NewRateLimiter(redisClient.Client)
	chatService := service.NewChatService(chatRepo, userRepo, blobs)
	messageService := service.NewMessageService(chatService, messageRepo, fileRepo, blobs, bus)
	userService := service.NewUserService(userRepo, sessions, blobs, attempts)

	cookies := middleware.CookieConfig{MaxAge: cfg.RefreshTokenTTL, Secure: cfg.Production}
	authGuard := middleware.NewAuthGuard(strategy, cookies)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, config.DefaultRateLimitPerMin)
	loginLimiter := middleware.NewLoginRateLimiter()
	signupLimiter := middleware.NewIPRateLimitMiddleware(attempts, signupLimitPerHour, time.Hour, "signup")
	refreshLimiter := middleware.NewIPRateLimitMiddleware(attempts, refreshLimitPerMin, time.Minute, "refresh")
	authBodyLimit := middleware.NewBodyLimitMiddleware(unauthenticatedLimit)
	uploadBodyLimit := middleware.NewBodyLimitMiddleware(cfg.MaxUploadBytes)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.Production)

	authHandler := handler.NewAuthHandler(userService, sessions, cookies)
	userHandler := handler.NewUserHandler(userService, cfg.MaxUploadBytes)
	chatHandler := handler.NewChatHandler(chatService, cfg.MaxUploadBytes)
	messageHandler := handler.NewMessageHandler(messageService, cfg.MaxUploadBytes)
	eventsHandler := handler.NewEventsHandler(bus, chatService)
	filesHandler := handler.NewFilesHandler(blobs.Root())
	wsServer := ws.NewServer(ws.NewConnectionGuard(strategy), bus, chatService, cfg.CORSOrigins)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{middleware.NewAccessTokenHeader},
		AllowCredentials: true,
		MaxAge:           corsMaxAgeSeconds,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get(config.FilesRoutePrefix+"/*", filesHandler.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		// Long-lived streams; the guard runs inside the websocket protocol.
		r.Get("/ws", wsServer.ServeHTTP)
		r.With(authGuard.Handler, rateLimitMiddleware.Handler).
			Get("/chats/{chatId}/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(securityHeadersMiddleware.Handler)

			r.With(authBodyLimit.Handler).Mount("/auth", authHandler.Routes(handler.AuthRouteMiddleware{
				SignUp:  signupLimiter.Handler,
				SignIn:  loginLimiter.Handler,
				Refresh: refreshLimiter.Handler,
				SignOut: authGuard.Handler,
			}))

			r.Group(func(r chi.Router) {
				r.Use(authGuard.Handler)
				r.Use(rateLimitMiddleware.Handler)
				r.Use(uploadBodyLimit.Handler)

				r.Mount("/users", userHandler.Routes())
				r.Mount("/chats", chatHandler.Routes(messageHandler.Routes))
			})
		})
	})

	cleanupJob := jobs.NewCleanupJob(config.CleanupJobInterval,
		jobs.CleanupTask{Name: "abandoned direct chats", Run: chatRepo.DeleteAbandonedDirect},
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
