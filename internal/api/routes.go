// routes.go - Route registration helpers
// This file provides a clean way to register all page and API routes
package api

import (
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/natural-query/webapp/internal/session"
	"github.com/natural-query/webapp/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store          storage.Store
	SessionMgr     *session.Manager
	Client         QueryClient
	BackendURL     string
	MaxUploadBytes int64
	ShowSQL        bool
	Version        string
	Logger         *slog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Pages   PageHandler
	Query   QueryAPIHandler
	Files   FileHandler
	Socket  *WebSocketHandler
	Session echo.MiddlewareFunc
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	svc := &queryService{
		store:          deps.Store,
		sessions:       deps.SessionMgr,
		client:         deps.Client,
		maxUploadBytes: deps.MaxUploadBytes,
		logger:         logger,
	}

	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.BackendURL, deps.SessionMgr),
		Pages:   NewPageHandler(svc, deps.ShowSQL),
		Query:   NewQueryAPIHandler(svc),
		Files:   NewFileHandler(svc),
		Socket:  NewWebSocketHandler(svc),
		Session: SessionMiddleware(deps.SessionMgr),
	}
}

// RegisterRoutes registers all routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	sess := handlers.Session

	// Pages
	e.GET("/", handlers.Pages.HandleLanding)
	e.GET("/query", handlers.Pages.HandleQueryView, sess)
	e.POST("/query/upload", handlers.Pages.HandleUploadForm, sess)
	e.POST("/query/ask", handlers.Pages.HandleQueryForm, sess)
	e.GET("/query/results.xlsx", handlers.Pages.HandleExportResults, sess)

	api := e.Group("/api")
	api.GET("/health", handlers.Health.HandleHealth)

	// Query view state
	api.GET("/state", handlers.Query.HandleGetState, sess)
	api.POST("/upload", handlers.Query.HandleUpload, sess)
	api.POST("/query", handlers.Query.HandleQuery, sess)
	api.GET("/results/msgpack", handlers.Query.HandleResultsMsgpack, sess)
	api.GET("/ws", handlers.Socket.HandleWebSocket, sess)

	// Staged files
	files := api.Group("/files")
	files.GET("/recent", handlers.Files.HandleRecentFiles)
	files.GET("/:id", handlers.Files.HandleGetFile)
	files.DELETE("/:id", handlers.Files.HandleDeleteFile)
	files.POST("/:id/resend", handlers.Files.HandleResendFile, sess)
}

// MiddlewareOptions selects the optional middleware
type MiddlewareOptions struct {
	BodyLimit    string
	EnableCORS   bool
	AllowOrigins string
	EnableGzip   bool
	LogRequests  bool
}

// SetupMiddleware configures common middleware and the error handler
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions, logger *slog.Logger) {
	e.HTTPErrorHandler = ErrorHandler(logger)

	if opts.LogRequests {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/api/health" || strings.HasPrefix(c.Path(), "/static")
			},
			LogStatus:   true,
			LogURI:      true,
			LogMethod:   true,
			LogLatency:  true,
			LogError:    true,
			HandleError: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				level := slog.LevelInfo
				if v.Error != nil || v.Status >= 500 {
					level = slog.LevelError
				}
				logger.LogAttrs(c.Request().Context(), level, "request",
					slog.String("method", v.Method),
					slog.String("uri", v.URI),
					slog.Int("status", v.Status),
					slog.Duration("latency", v.Latency),
				)
				return nil
			},
		}))
	}

	e.Use(middleware.Recover())

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}

	if opts.EnableCORS {
		origins := strings.Split(opts.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
		}))
	}

	if opts.EnableGzip {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Skipper: func(c echo.Context) bool {
				return isWebSocketUpgrade(c.Request())
			},
		}))
	}
}
