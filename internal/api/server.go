package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"yacs/internal/auth"
	"yacs/internal/captcha"
	"yacs/internal/session"
	"yacs/pkg/interfaces"
)

// Protocol is the subset of the realtime engine the admin endpoints drive
type Protocol interface {
	Kick(nickname string) error
	DeleteMessage(ctx context.Context, id int64) error
	NotifyChannelsUpdated()
}

// ChallengeGenerator produces challenge text and its PNG rendering
type ChallengeGenerator interface {
	Generate() (string, []byte, error)
}

// Registry reports transport statistics for /health
type Registry interface {
	GetStats() map[string]int
}

// RoomSettings is the branding returned with the room view
type RoomSettings struct {
	Title     string
	MOTD      string
	Emoticons []string
}

// Options wires the server to its collaborators
type Options struct {
	Sessions       *session.Registry
	Storage        interfaces.Storage
	Blobs          interfaces.BlobStore
	Protocol       Protocol
	Challenges     *captcha.Cache
	Generator      ChallengeGenerator
	Passphrases    *auth.Matcher
	Guard          *auth.Guard
	Registry       Registry
	WebSocket      http.Handler
	Room           RoomSettings
	MaxUploadBytes int64
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	opts Options
	echo *echo.Echo
	now  func() time.Time
}

// NewServer builds the echo instance and registers every route
func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{opts: opts, echo: e, now: time.Now}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// Guards are composed per route ahead of each handler
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("request")
			return nil
		},
	}))

	// Public
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/api/captcha", s.issueCaptcha)
	s.echo.POST("/auth", s.login)
	s.echo.POST("/room", s.roomView)
	s.echo.GET("/resource_meta/:id", s.resourceMeta)
	s.echo.GET("/resource/:id", s.resourceFile)
	if s.opts.WebSocket != nil {
		s.echo.GET("/ws", echo.WrapHandler(s.opts.WebSocket))
	}

	// Logged-in clients
	requireSession := s.opts.Guard.RequireSession()
	s.echo.GET("/channels", s.listChannels, requireSession)
	s.echo.GET("/messages/:channel", s.listMessages, requireSession)
	s.echo.POST("/index_upload", s.indexUpload, requireSession)
	s.echo.POST("/submit_upload", s.submitUpload, requireSession)

	// Administrators
	requireAdmin := s.opts.Guard.RequireAdmin()
	s.echo.GET("/online", s.listOnline, requireAdmin)
	s.echo.POST("/channel", s.createChannel, requireAdmin)
	s.echo.PUT("/channel/:id", s.renameChannel, requireAdmin)
	s.echo.PUT("/channel/:id/privacy", s.toggleChannelPrivacy, requireAdmin)
	s.echo.DELETE("/channel/:id", s.deleteChannel, requireAdmin)
	s.echo.DELETE("/online/:name", s.kickUser, requireAdmin)
	s.echo.DELETE("/resource/:id", s.expireResource, requireAdmin)
	s.echo.DELETE("/message/:id", s.deleteMessage, requireAdmin)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) healthCheck(c echo.Context) error {
	status := map[string]interface{}{
		"status":   "healthy",
		"sessions": s.opts.Sessions.Count(),
	}
	if s.opts.Registry != nil {
		status["transport"] = s.opts.Registry.GetStats()
	}
	if err := s.opts.Storage.HealthCheck(c.Request().Context()); err != nil {
		status["status"] = "degraded"
		status["error"] = err.Error()
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

func sendError(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}
