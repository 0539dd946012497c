package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agamariel/printdesk/internal/auth"
	"github.com/agamariel/printdesk/internal/config"
	"github.com/agamariel/printdesk/internal/handlers"
	"github.com/agamariel/printdesk/internal/metrics"
	"github.com/agamariel/printdesk/internal/migrations"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/notify"
	"github.com/agamariel/printdesk/internal/payment"
	"github.com/agamariel/printdesk/internal/services"
	"github.com/agamariel/printdesk/internal/staging"
	"github.com/agamariel/printdesk/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// App структура для управления приложением и его зависимостями.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	dbPool  *pgxpool.Pool
	echo    *echo.Echo
	worker  *services.LifecycleWorker

	// Внешние ресурсы, закрываемые при остановке
	redis     *staging.RedisStore
	publisher *notify.Publisher

	// Handlers
	userHandler         *handlers.UserHandler
	orderHandler        *handlers.OrderHandler
	projectHandler      *handlers.ProjectHandler
	conversationHandler *handlers.ConversationHandler
	balanceHandler      *handlers.BalanceHandler
	webhookHandler      *handlers.WebhookHandler
}

// storageSet хранилища, выбранные по конфигурации.
type storageSet struct {
	users         services.UserStorage
	orders        services.OrderStorage
	ledger        services.LedgerStorage
	conversations services.ConversationStorage
}

// NewApp создаёт и инициализирует новое приложение.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.Registry(cfg.MetricsNamespace),
	}

	if err := app.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initDependencies(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	app.initServer()

	return app, nil
}

// initDatabase подключает Postgres и выполняет миграции. Без DATABASE_URI данные хранятся в памяти.
func (app *App) initDatabase(ctx context.Context) error {
	if app.cfg.DatabaseURI == "" {
		app.logger.Warn("DATABASE_URI is not set, using in-memory storage; data will be lost on restart")
		return nil
	}

	// Применение миграций
	app.logger.Info("running database migrations")
	sqlDB, err := sql.Open("pgx", app.cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("unable to open database connection: %w", err)
	}
	defer sqlDB.Close()

	version, err := migrations.Run(ctx, sqlDB, app.logger)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	latest, err := migrations.Latest(sqlDB)
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	if version < latest {
		return fmt.Errorf("database schema version %d is behind embedded version %d", version, latest)
	}
	app.logger.Info("migrations completed", "version", version)

	dbPool, err := pgxpool.New(ctx, app.cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return fmt.Errorf("unable to ping database: %w", err)
	}

	app.dbPool = dbPool
	app.logger.Info("connected to database")

	return nil
}

func (app *App) storages() storageSet {
	if app.dbPool == nil {
		mem := storage.NewMemoryStore()
		return storageSet{
			users:         mem.Users,
			orders:        mem.Orders,
			ledger:        mem.Ledger,
			conversations: mem.Conversations,
		}
	}
	return storageSet{
		users:         storage.NewPostgresUserStorage(app.dbPool),
		orders:        storage.NewPostgresOrderStorage(app.dbPool),
		ledger:        storage.NewPostgresLedgerStorage(app.dbPool),
		conversations: storage.NewPostgresConversationStorage(app.dbPool),
	}
}

func (app *App) stagingStore(ctx context.Context) (staging.Store, error) {
	if app.cfg.RedisAddr == "" {
		app.logger.Warn("REDIS_ADDR is not set, staged updates are kept in memory")
		return staging.NewMemoryStore(), nil
	}
	store := staging.NewRedisStore(staging.RedisConfig{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
	}, staging.DefaultTTL, app.logger)
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, err
	}
	app.redis = store
	return store, nil
}

func (app *App) notifier() (notify.Notifier, error) {
	if app.cfg.AMQPURL == "" {
		app.logger.Warn("AMQP_URL is not set, notifications are only logged")
		return notify.NewLogNotifier(app.logger), nil
	}
	publisher, err := notify.NewPublisher(app.cfg.AMQPURL, app.cfg.NotifyExchange, app.logger)
	if err != nil {
		return nil, err
	}
	app.publisher = publisher
	return publisher, nil
}

// initDependencies инициализирует все зависимости приложения (storage, services, handlers).
func (app *App) initDependencies(ctx context.Context) error {
	// Storage layer
	stores := app.storages()
	staged, err := app.stagingStore(ctx)
	if err != nil {
		return fmt.Errorf("staging store: %w", err)
	}
	notifier, err := app.notifier()
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	var gateway payment.Gateway
	if app.cfg.PaymentGatewayAddress != "" {
		gateway = payment.NewHTTPGateway(app.cfg.PaymentGatewayAddress, 5*time.Second, app.metrics, app.logger)
	} else {
		app.logger.Warn("PAYMENT_GATEWAY_ADDRESS is not set, gateway orders get no redirect and refunds cannot be sent")
	}
	if app.cfg.PaymentWebhookSecret == "" {
		app.logger.Warn("PAYMENT_WEBHOOK_SECRET is not set, payment webhooks will be rejected")
	}

	// Service layer
	userService := services.NewUserService(stores.users, app.cfg.JWTSecret, app.cfg.TokenExpiration, app.cfg.StaffLogins...)
	conversationService := services.NewConversationService(stores.conversations, stores.orders, notifier, app.metrics, app.logger, nil)
	orderService := services.NewOrderService(services.OrderServiceDeps{
		Orders:        stores.orders,
		Ledger:        stores.ledger,
		Staging:       staged,
		Gateway:       gateway,
		Notifier:      notifier,
		Conversations: conversationService,
		Metrics:       app.metrics,
		Logger:        app.logger,
	})
	projectService := services.NewProjectService(stores.orders, orderService, staged, app.logger)
	balanceService := services.NewBalanceService(stores.ledger)

	// Handler layer
	app.userHandler = handlers.NewUserHandler(userService)
	app.orderHandler = handlers.NewOrderHandler(orderService)
	app.projectHandler = handlers.NewProjectHandler(projectService)
	app.conversationHandler = handlers.NewConversationHandler(conversationService)
	app.balanceHandler = handlers.NewBalanceHandler(balanceService)
	app.webhookHandler = handlers.NewWebhookHandler(orderService, app.cfg.PaymentWebhookSecret)

	// Воркер жизненного цикла
	app.worker = services.NewLifecycleWorker(
		stores.orders,
		stores.conversations,
		conversationService,
		notifier,
		app.metrics,
		app.cfg.LifecycleInterval,
		app.cfg.RefundStaleAfter,
		app.logger,
	)

	return nil
}

// initServer инициализирует HTTP-сервер и настраивает маршруты.
func (app *App) initServer() {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.PATCH, echo.DELETE},
	}))

	e.GET("/healthz", app.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Публичные маршруты (не требуют аутентификации)
	e.POST("/api/user/register", app.userHandler.Register)
	e.POST("/api/user/login", app.userHandler.Login)
	e.POST("/api/payments/webhook", app.webhookHandler.PaymentConfirmed)

	// Защищённые маршруты (требуют аутентификации)
	api := e.Group("/api")
	api.Use(auth.JWTMiddleware(app.cfg.JWTSecret))
	staffOnly := auth.RequireRole(models.RoleStaff)

	api.GET("/user/balance", app.balanceHandler.GetBalance)
	api.GET("/user/ledger", app.balanceHandler.GetLedger)

	api.POST("/orders", app.orderHandler.SubmitOrder)
	api.GET("/orders", app.orderHandler.ListOrders)
	api.GET("/orders/:id", app.orderHandler.GetOrder)
	api.PATCH("/orders/:id/status", app.orderHandler.UpdateStatus, staffOnly)
	api.PATCH("/orders/:id/shipping", app.orderHandler.UpdateShipping, staffOnly)
	api.POST("/orders/:id/edit", app.orderHandler.RequestEdit)
	api.POST("/orders/:id/cancel", app.orderHandler.RequestCancellation)
	api.POST("/orders/:id/refund-request", app.orderHandler.RequestRefund)
	api.POST("/orders/:id/settle", app.orderHandler.SettleRefund)

	api.GET("/projects/:id", app.projectHandler.GetProject)
	api.POST("/projects/:id/cancel", app.projectHandler.CancelProject)
	api.POST("/projects/:id/settle", app.projectHandler.SettleProject)

	api.GET("/conversations", app.conversationHandler.ListConversations)
	api.POST("/conversations", app.conversationHandler.CreateConversation)
	api.GET("/conversations/:id/messages", app.conversationHandler.ListMessages)
	api.POST("/conversations/:id/messages", app.conversationHandler.PostMessage)
	api.POST("/conversations/:id/read", app.conversationHandler.MarkRead)
	api.POST("/conversations/:id/typing", app.conversationHandler.SetTyping)
	api.PATCH("/conversations/:id/status", app.conversationHandler.UpdateStatus, staffOnly)

	app.echo = e
}

func (app *App) health(c echo.Context) error {
	if app.dbPool != nil {
		if err := app.dbPool.Ping(c.Request().Context()); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
		}
	}
	if app.redis != nil {
		if err := app.redis.Ping(c.Request().Context()); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "redis unavailable")
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Run запускает воркер и HTTP-сервер и блокируется до отмены ctx или ошибки сервера.
func (app *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	app.logger.Info("starting lifecycle worker", "interval", app.cfg.LifecycleInterval)
	app.worker.Start(gctx)

	g.Go(func() error {
		app.logger.Info("starting server", "address", app.cfg.RunAddress)
		if err := app.echo.Start(app.cfg.RunAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown корректно завершает работу приложения.
func (app *App) Shutdown(ctx context.Context) error {
	app.logger.Info("shutting down server")

	if err := app.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if app.publisher != nil {
		app.publisher.Close()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn("failed to close redis", "error", err)
		}
	}
	if app.dbPool != nil {
		app.dbPool.Close()
	}

	app.logger.Info("server gracefully stopped")
	return nil
}
