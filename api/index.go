package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/board"
	"pipeline-crm-backend/pkg/config"
	"pipeline-crm-backend/pkg/database"
	"pipeline-crm-backend/pkg/handlers"
	"pipeline-crm-backend/pkg/invitations"
	"pipeline-crm-backend/pkg/logging"
	customMiddleware "pipeline-crm-backend/pkg/middleware"
	"pipeline-crm-backend/pkg/notify"
	"pipeline-crm-backend/pkg/realtime"
	"pipeline-crm-backend/pkg/utils"
	"pipeline-crm-backend/pkg/workspaces"
)

// App is the wired service: store, change feed, email dispatch and router.
type App struct {
	Config *config.Config
	DB     database.DatabaseInterface
	Hub    *realtime.Hub
	Mailer *notify.Dispatcher
	JWT    *utils.JWTService
	Router http.Handler

	Engine      *board.Engine
	Invitations *invitations.Manager
	Workspaces  *workspaces.Service

	logger  *slog.Logger
	closers []func() error
}

// NewApp wires every service on top of db. RabbitMQ and Kafka are used
// when configured; otherwise emails are logged and events stay in-process.
func NewApp(cfg *config.Config, db database.DatabaseInterface, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, DB: db, JWT: utils.NewJWTService(cfg.JWTSecret), logger: logger}

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.RabbitMQURL != "" {
		client, err := notify.NewRabbitmqClient(cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		if err := client.CreateQueue(cfg.EmailQueue); err != nil {
			_ = client.Close()
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		notifier = notify.NewQueueNotifier(client, cfg.EmailQueue)
		logger.Info("invitation emails go to queue", "queue", cfg.EmailQueue)
	}
	app.Mailer = notify.NewDispatcher(notifier, logger)

	hubOpts := []realtime.HubOption{realtime.WithLogger(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		hubOpts = append(hubOpts, realtime.WithSink(realtime.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)))
		logger.Info("change events go to kafka", "topic", cfg.KafkaTopic)
	}
	app.Hub = realtime.NewHub(hubOpts...)

	app.Engine = board.NewEngine(db, board.WithPublisher(app.Hub), board.WithLogger(logger))
	app.Invitations = invitations.NewManager(db,
		invitations.Config{AppBaseURL: cfg.AppBaseURL, TTL: cfg.InviteTTL},
		invitations.WithMailer(app.Mailer),
		invitations.WithPublisher(app.Hub),
		invitations.WithLogger(logger),
	)
	app.Workspaces = workspaces.NewService(db,
		workspaces.WithBoardSeeder(app.Engine),
		workspaces.WithPublisher(app.Hub),
		workspaces.WithLogger(logger),
	)

	app.Router = app.routes()
	return app, nil
}

// RunRelay consumes the shared Kafka topic so events published by other
// instances reach this instance's subscribers. It returns when ctx ends.
func (a *App) RunRelay(ctx context.Context, groupID string) {
	if len(a.Config.KafkaBrokers) == 0 {
		return
	}
	relay := realtime.NewRelay(a.Config.KafkaBrokers, a.Config.KafkaTopic, groupID, a.Hub, a.logger)
	defer relay.Close()
	relay.Run(ctx)
}

// Close drains background work and releases connections. The store is
// owned by the caller.
func (a *App) Close() error {
	a.Mailer.Wait()
	errs := []error{a.Hub.Close()}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func (a *App) routes() http.Handler {
	cfg, logger := a.Config, a.logger
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.RequestLogger(logger))
	router.Use(customMiddleware.Recovery(logger, cfg.Debug && !cfg.IsProduction()))
	router.Use(customMiddleware.CORS(cfg))
	router.Use(middleware.Heartbeat("/ping"))

	authHandler := handlers.NewAuthHandler(cfg, a.DB, a.JWT, logger)
	invHandler := handlers.NewInvitationsHandler(cfg, a.Invitations, logger)
	boardsHandler := handlers.NewBoardsHandler(cfg, a.Engine, logger)
	streamsHandler := handlers.NewStreamsHandler(cfg, a.Workspaces, logger)
	realtimeHandler := handlers.NewRealtimeHandler(cfg, a.Hub, a.DB, logger)

	requireAuth := customMiddleware.AuthMiddleware(a.JWT, logger)
	optionalAuth := customMiddleware.OptionalAuthMiddleware(a.JWT)

	router.Get("/", authHandler.HealthCheck)
	router.With(optionalAuth).Get("/invite/{token}", invHandler.Get)

	if cfg.Debug && !cfg.IsProduction() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			utils.WriteSuccessResponse(w, database.GetConnectionStats())
		})
	}

	router.Route("/api", func(r chi.Router) {
		// long-lived SSE responses stay outside the request timeout
		r.With(requireAuth).Get("/realtime", realtimeHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(25 * time.Second))
			r.Use(middleware.Compress(5))
			r.Use(customMiddleware.MaxBodySize(1 << 20))
			r.Use(customMiddleware.ContentTypeJSON)

			r.Route("/auth", func(r chi.Router) {
				r.Post("/session", authHandler.CreateSession)
				r.Post("/refresh", authHandler.RefreshToken)
				r.Post("/logout", authHandler.Logout)
				r.With(requireAuth).Get("/me", authHandler.Me)
			})

			r.With(optionalAuth).Get("/invitations/{id}", invHandler.Get)
			r.Get("/boards/templates", boardsHandler.Templates)
			if cfg.AuthWebhookSecret != "" {
				r.Post("/webhooks/auth", handlers.NewWebhookHandler(cfg, a.DB, logger).HandleUserEvent)
			}

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)

				r.Get("/invitations", invHandler.ListForStream)
				r.Post("/invitations", invHandler.Create)
				r.Get("/invitations/my", invHandler.ListMine)
				r.Post("/invitations/{id}/accept", invHandler.Accept)

				r.Get("/boards", boardsHandler.List)
				r.Post("/boards", boardsHandler.CreateBoard)
				r.Post("/board-columns", boardsHandler.CreateColumn)
				r.Post("/board-entries", boardsHandler.CreateEntry)
				r.Patch("/board-entries/{id}", boardsHandler.UpdateEntry)

				r.Post("/workspaces", streamsHandler.CreateWorkspace)
				r.Route("/streams", func(r chi.Router) {
					r.Get("/", streamsHandler.ListMine)
					r.Post("/", streamsHandler.CreateStream)
					r.Get("/{id}/members", streamsHandler.ListMembers)
					r.Delete("/{id}/members/{userId}", streamsHandler.RemoveMember)
				})
			})
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found", "")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", "")
	})
	return router
}

var (
	vercelMu     sync.Mutex
	vercelApp    *App
	vercelLogger *slog.Logger
)

// Handler is the serverless entry point. Every invocation asks the
// connection pool for the store; when the pool hands back a different one
// (config change, aged out, failed health check) the app is rebuilt on it.
func Handler(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.GetCached()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("startup failed", "error", err)
		utils.WriteInternalServerErrorResponse(w, "Service is not configured")
		return
	}
	vercelMu.Lock()
	if vercelLogger == nil {
		vercelLogger = logging.New(cfg.IsProduction(), cfg.Debug)
	}
	logger := vercelLogger
	vercelMu.Unlock()

	app, err := pooledApp(cfg, logger)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		utils.WriteAppError(w, apperrors.Wrap(apperrors.PersistenceError, "storage unavailable, please retry", err), utils.ErrorOptions{})
		return
	}
	app.Router.ServeHTTP(w, r)
}

// pooledApp returns the app bound to the pool's current store.
func pooledApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := database.GetDatabase(cfg.DatabaseConfig(), logger)
	if err != nil {
		return nil, err
	}
	vercelMu.Lock()
	defer vercelMu.Unlock()
	if vercelApp != nil && vercelApp.DB == db {
		return vercelApp, nil
	}
	app, err := NewApp(cfg, db, logger)
	if err != nil {
		return nil, err
	}
	if old := vercelApp; old != nil {
		logger.Info("store replaced, rebuilding app")
		go func() { _ = old.Close() }()
	}
	vercelApp = app
	return app, nil
}
