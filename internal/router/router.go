package router

import (
	"fmt"

	"github.com/labstack/echo/v4"
	eMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/quartissimo/realtime/internal/handlers"
	"github.com/quartissimo/realtime/internal/middleware"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/push"
	"github.com/quartissimo/realtime/internal/realtime"
	"github.com/quartissimo/realtime/internal/repositories"
	"github.com/quartissimo/realtime/pkg/config"
	"go.uber.org/zap"
)

// Dependencies carries what the routes are built from
type Dependencies struct {
	Config    *config.Config
	DB        *config.DB
	Messenger push.Messenger // nil disables push
	Logger    *zap.Logger
}

// SetupMiddleware configures global Echo middleware
func SetupMiddleware(e *echo.Echo, logger *zap.Logger) {
	e.Use(eMiddleware.Recover())
	e.Use(config.RequestLogger(logger))
	e.Use(eMiddleware.CORS())
	logger.Info("Global middleware configured")
}

// SetupRoutes migrates the schema, builds repositories and mounts every route.
// It returns the websocket hub so callers can inspect live connections.
func SetupRoutes(e *echo.Echo, deps Dependencies) (*realtime.Hub, error) {
	logger := deps.Logger
	pgdb := deps.DB.Postgres

	// AutoMigrate PostgreSQL models
	err := pgdb.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.GroupMember{},
		&models.Message{},
		&models.DeviceToken{},
	)
	if err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("PostgreSQL auto-migrations completed")

	// Health check - always accessible
	e.GET("/health", handlers.HealthCheck)

	// --- Initialize Repositories ---
	userRepo := repositories.NewPostgresUserRepository(pgdb)
	messageRepo := repositories.NewPostgresMessageRepository(pgdb)
	groupRepo := repositories.NewPostgresGroupRepository(pgdb)
	deviceRepo := repositories.NewPostgresDeviceRepository(pgdb)
	notifier := offlineNotifier(deps.Messenger, deviceRepo, logger)

	presence := repositories.NewMemoryPresenceStore()
	if deps.DB.Redis != nil {
		presence = repositories.NewRedisPresenceStore(deps.DB.Redis)
	}
	var presenceLog repositories.PresenceLogRepository
	if deps.DB.Mongo != nil {
		presenceLog = repositories.NewMongoPresenceLogRepository(deps.DB.Mongo.Database(deps.Config.MongoDatabase))
	}

	// --- Real-time channel (authenticates on its first frame) ---
	hub := realtime.NewHub(deps.Config.JWTSecret, messageRepo, groupRepo, presence, presenceLog, logger.Named("realtime"), realtime.Options{})
	e.GET("/api/socket.io", hub.HandleSocket)
	e.GET("/api/socket.io/", hub.HandleSocket)
	logger.Info("Websocket channel mounted", zap.String("path", "/api/socket.io"))

	// --- Protected routes (require JWT authentication) ---
	api := e.Group("")
	api.Use(middleware.JWTAuthMiddleware(deps.Config.JWTSecret))

	userHandler := handlers.NewUserHandler(userRepo)
	userHandler.RegisterUserRoutes(api)

	messageHandler := handlers.NewMessageHandler(messageRepo, userRepo, groupRepo, presence, notifier, logger)
	messageHandler.RegisterMessageRoutes(api)

	groupHandler := handlers.NewGroupHandler(groupRepo, messageRepo)
	groupHandler.RegisterGroupRoutes(api)

	statusHandler := handlers.NewUserStatusHandler(presence, presenceLog, logger)
	statusHandler.RegisterUserStatusRoutes(api)

	deviceHandler := handlers.NewDeviceHandler(deviceRepo)
	deviceHandler.RegisterDeviceRoutes(api)

	logger.Info("All routes configured", zap.Bool("push_enabled", notifier != nil))
	return hub, nil
}

// offlineNotifier returns nil when no messenger is configured so handlers see
// a nil interface and skip push.
func offlineNotifier(messenger push.Messenger, devices repositories.DeviceRepository, logger *zap.Logger) handlers.OfflineNotifier {
	if messenger == nil {
		return nil
	}
	return push.NewNotifier(messenger, devices, logger.Named("push"))
}
