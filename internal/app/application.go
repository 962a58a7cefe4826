package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"yacs/internal/api"
	"yacs/internal/auth"
	"yacs/internal/blob"
	"yacs/internal/captcha"
	"yacs/internal/config"
	"yacs/internal/database"
	"yacs/internal/hub"
	"yacs/internal/render"
	"yacs/internal/router"
	"yacs/internal/session"
	"yacs/internal/websocket"
	pkgdatabase "yacs/pkg/database"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	sessions   *session.Registry
	registry   *websocket.Registry
	router     *router.Router
	messageHub *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Transport → Sessions → Hub → Router → WebSocket → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.WarnInsecureDefaults()

	// STEP 1: Initialize database manager (foundation layer)
	dbManager, err := database.NewManager(cfg.DatabaseConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	if err := pkgdatabase.NewMigrationManager(dbManager.GetDB()).ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).Validate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema check failed: %w", err)
	}
	log.Info().Str("driver", cfg.Database.Driver).Str("path", cfg.Database.Path).Msg("database ready")

	blobs, err := blob.NewStore(cfg.Upload.ResourcePath)
	if err != nil {
		_ = dbManager.Close()
		return nil, err
	}

	challenges, err := captcha.NewCache(cfg.Captcha.MaxCache, cfg.Captcha.Expire)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize captcha cache: %w", err)
	}
	generator, err := captcha.NewGenerator(
		captcha.Charset(cfg.Captcha.Numbers, cfg.Captcha.Lowercase, cfg.Captcha.Uppercase),
		cfg.Captcha.Length,
	)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize captcha generator: %w", err)
	}

	// STEP 2: Transport registry, the session registry's only outbound dependency
	registry := websocket.NewRegistry()

	// STEP 3: Session registry (presence, membership, liveness, uploads)
	sessions := session.NewRegistry(session.Config{
		Timeout:        cfg.Auth.Timeout,
		MaxUploadBytes: cfg.Upload.SizeMaxBytes,
	}, registry)

	// STEP 4: Ordered persist-then-broadcast pipeline
	messageHub := hub.NewHub(sessions, dbManager, render.NewBBCode(), registry)

	// STEP 5: Realtime protocol engine
	messageRouter := router.NewRouter(sessions, dbManager, registry, messageHub)

	// STEP 6: WebSocket handler
	wsHandler := websocket.NewHandler(registry, messageRouter, websocket.HandlerConfig{
		PingInterval:     cfg.WebSocket.PingInterval,
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		HandshakeTimeout: cfg.HTTP.ReadTimeout,
		MaxMessageBytes:  cfg.WebSocket.MaxMessageBytes,
	})

	// STEP 7: API server with all business dependencies
	apiServer := api.NewServer(api.Options{
		Sessions:   sessions,
		Storage:    dbManager,
		Blobs:      blobs,
		Protocol:   messageRouter,
		Challenges: challenges,
		Generator:  generator,
		Passphrases: auth.NewMatcher(auth.Passphrases{
			Admin:     cfg.Auth.AdminPhrase,
			AdminHash: cfg.Auth.AdminPhraseHash,
			User:      cfg.Auth.UserPhrase,
			UserHash:  cfg.Auth.UserPhraseHash,
		}),
		Guard:     auth.NewGuard(sessions),
		Registry:  registry,
		WebSocket: http.HandlerFunc(wsHandler.HandleWebSocket),
		Room: api.RoomSettings{
			Title:     cfg.Custom.Title,
			MOTD:      cfg.Custom.MOTD,
			Emoticons: cfg.Custom.Emoticons,
		},
		MaxUploadBytes: cfg.Upload.SizeMaxBytes,
	})

	// STEP 8: HTTP server; upgraded sockets reset their own deadlines per frame
	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		sessions:   sessions,
		registry:   registry,
		router:     messageRouter,
		messageHub: messageHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Hub starts first to handle messages, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	// STEP 1: Start message hub (background message processing)
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 2: Bind the listener so startup errors surface synchronously
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.messageHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	// STEP 3: Serve
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().Str("addr", listener.Addr().String()).Msg("yacs started")
	return nil
}

// Stop gracefully shuts down the application
// Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: HTTP → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Info().Msg("shutting down")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	// STEP 2: Stop message processing
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Warn().Err(err).Msg("message hub shutdown error")
	}

	// STEP 3: Close database connections
	if err := app.dbManager.Close(); err != nil {
		log.Warn().Err(err).Msg("database shutdown error")
		return err
	}

	log.Info().Msg("shutdown complete")
	return nil
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the full HTTP surface
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
