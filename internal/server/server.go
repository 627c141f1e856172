package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/UmanUmair/ScreenGuide/internal/capture"
	"github.com/UmanUmair/ScreenGuide/internal/guidance"
	"github.com/UmanUmair/ScreenGuide/internal/instruction"
	"github.com/UmanUmair/ScreenGuide/internal/observability"
	"github.com/UmanUmair/ScreenGuide/internal/permission"
	"github.com/UmanUmair/ScreenGuide/internal/popup"
	"github.com/UmanUmair/ScreenGuide/internal/store"
	"github.com/UmanUmair/ScreenGuide/internal/vision"
)

// TaskLister reads task history.
type TaskLister interface {
	RecentTasks(limit int) ([]store.Task, error)
}

// Deps are the components the API exposes.
type Deps struct {
	Orchestrator *guidance.Orchestrator
	Inputs       *capture.Inputs
	Processor    *instruction.Processor
	Vision       *vision.Client
	Permissions  *permission.Gateway
	Tasks        TaskLister
	Guide        *popup.Guide
}

// Server is the HTTP API.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *observability.Logger
	listen string
}

type Option func(*Server)

func WithListen(addr string) Option {
	return func(s *Server) { s.listen = addr }
}

func WithLogger(l *observability.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		echo:   echo.New(),
		deps:   deps,
		logger: observability.NewNop(),
		listen: ":8080",
	}
	for _, opt := range opts {
		opt(s)
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("25M"))
	e.Use(requestLogger(s.logger))

	s.registerRoutes()
	return s
}

func requestLogger(l *observability.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/health"
		},
		LogLatency: true,
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				l.Warn("request", fields...)
				return nil
			}
			l.Debug("request", fields...)
			return nil
		},
	})
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/health", s.health)

	api := e.Group("/api")
	api.GET("/session", s.getSession)
	api.POST("/session/input", s.submitInput)
	api.POST("/session/back", s.backToInput)
	api.POST("/session/screen-share", s.setScreenSharing)
	api.POST("/session/analysis", s.setAnalysis)
	api.POST("/session/steps/:id/complete", s.completeStep)
	api.POST("/session/steps/:index/select", s.selectStep)

	api.POST("/analyze", s.analyze)
	api.POST("/instructions/split", s.split)

	api.GET("/permissions", s.getPermissions)
	api.POST("/permissions/:capability", s.requestPermission)

	api.GET("/tasks", s.listTasks)

	api.GET("/guide", s.getGuide)
	api.POST("/guide/position", s.moveGuide)
	api.POST("/guide/:action", s.guideAction)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() *echo.Echo {
	return s.echo
}

func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.listen))
	return s.echo.Start(s.listen)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
