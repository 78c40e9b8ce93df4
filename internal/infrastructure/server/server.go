package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	apihttp "github.com/GriffinCanCode/laplace/internal/api/http"
	"github.com/GriffinCanCode/laplace/internal/api/middleware"
	"github.com/GriffinCanCode/laplace/internal/api/ws"
	"github.com/GriffinCanCode/laplace/internal/domain/lapps"
	"github.com/GriffinCanCode/laplace/internal/gossip"
	"github.com/GriffinCanCode/laplace/internal/infrastructure/config"
	"github.com/GriffinCanCode/laplace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/laplace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/laplace/internal/providers/http/client"
	"github.com/GriffinCanCode/laplace/internal/runtime"
)

// Server wraps the HTTP server and every component behind it
type Server struct {
	router  *gin.Engine
	http    *http.Server
	lapps   *lapps.Manager
	gossip  *gossip.Service
	engine  *runtime.Engine
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer builds the component graph from cfg and registers lapps found on
// disk. With LAPPS_AUTOLOAD every enabled lapp is loaded as well.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Sampling:    cfg.Logging.Sampling,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing Laplace server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("lapps_dir", cfg.Lapps.Dir),
		zap.String("data_dir", cfg.Lapps.DataDir),
		zap.String("gossip_transport", cfg.Gossip.Transport),
	)

	metrics := monitoring.NewMetrics()

	engine := runtime.NewEngine(runtime.Config{
		InvokeTimeout:    cfg.Runtime.InvokeTimeout,
		MemoryLimitPages: cfg.Runtime.MemoryLimitPages,
		HostTimeout:      cfg.Runtime.HostTimeout,
	}, logger.Logger, metrics)

	fetchCfg := client.DefaultConfig()
	fetchCfg.Timeout = cfg.Fetch.Timeout
	fetchCfg.MaxRetries = cfg.Fetch.MaxRetries
	fetchCfg.RatePerSecond = cfg.Fetch.RatePerSecond
	fetcher := client.NewClient(fetchCfg)

	transport, err := newTransport(ctx, cfg.Gossip, logger.Logger)
	if err != nil {
		engine.Close(ctx)
		return nil, err
	}
	gossipSvc := gossip.NewService(transport, gossip.Config{
		PeerID:          cfg.Gossip.PeerID,
		Timeout:         cfg.Gossip.Timeout,
		DeliveryTimeout: cfg.Gossip.DeliveryTimeout,
	}, logger.Logger, metrics)
	logger.Info("Gossip service ready", zap.String("peer", gossipSvc.PeerID()))

	manager, err := lapps.NewManager(lapps.Config{
		LappsDir:        cfg.Lapps.Dir,
		DataDir:         cfg.Lapps.DataDir,
		StorageTimeout:  cfg.Storage.Timeout,
		MaxPackageBytes: cfg.Lapps.MaxPackageBytes,
		MaxFileBytes:    cfg.Storage.MaxFileBytes,
	}, engine, gossipSvc, fetcher, logger.Logger)
	if err != nil {
		gossipSvc.Close()
		engine.Close(ctx)
		return nil, fmt.Errorf("failed to create lapps manager: %w", err)
	}
	manager.WithObserver(metrics)

	n, err := manager.Bootstrap(ctx)
	if err != nil {
		gossipSvc.Close()
		engine.Close(ctx)
		return nil, fmt.Errorf("failed to scan lapps: %w", err)
	}
	logger.Info("Lapps registered", zap.Int("count", n))

	if cfg.Lapps.Autoload {
		autoload(ctx, manager, logger.Logger)
	}

	s := &Server{
		lapps:   manager,
		gossip:  gossipSvc,
		engine:  engine,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(&zapio.Writer{Log: logger.Named("http"), Level: zapcore.WarnLevel}, "", 0),
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

func newTransport(ctx context.Context, cfg config.GossipConfig, logger *zap.Logger) (gossip.Transport, error) {
	switch cfg.Transport {
	case config.TransportRedis:
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		transport, err := gossip.NewRedisTransport(dialCtx, cfg.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect gossip transport: %w", err)
		}
		return transport, nil
	default:
		logger.Info("Using in-process gossip transport, peer messages stay local to this server")
		return gossip.NewMemoryTransport(), nil
	}
}

// autoload loads every enabled lapp. Failures are logged; the lapp stays
// enabled and can be loaded through the management API.
func autoload(ctx context.Context, manager *lapps.Manager, logger *zap.Logger) {
	list, err := manager.List()
	if err != nil {
		logger.Warn("Autoload skipped", zap.Error(err))
		return
	}
	for _, lapp := range list {
		if !lapp.Enabled {
			continue
		}
		if err := manager.Load(ctx, lapp.Name); err != nil {
			logger.Warn("Failed to autoload lapp", zap.String("lapp", lapp.Name), zap.Error(err))
			continue
		}
		logger.Info("Lapp autoloaded", zap.String("lapp", lapp.Name))
	}
}

func (s *Server) routes() *gin.Engine {
	cfg := s.config
	logger := s.logger.Logger

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.CORS.Origins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	wsCfg := ws.DefaultConfig()
	wsCfg.AllowedOrigins = cfg.CORS.Origins
	wsHandler := ws.NewHandler(s.lapps, wsCfg, logger, s.metrics)

	handlers := apihttp.NewHandlers(s.lapps, cfg.Lapps.MaxPackageBytes, logger)
	gateway := apihttp.NewGateway(s.lapps, wsHandler, cfg.Server.MaxBodyBytes, logger)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	if cfg.Admin.Token == "" {
		logger.Warn("ADMIN_TOKEN is not set, the management API is unauthenticated")
	}
	admin := router.Group("/laplace", middleware.AdminToken(cfg.Admin.Token))
	handlers.Register(admin)
	admin.GET("/log/level", gin.WrapH(s.logger.LevelHandler()))
	admin.PUT("/log/level", gin.WrapH(s.logger.LevelHandler()))

	// Everything else is a lapp route
	router.NoRoute(gateway.Handle)

	return router
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Manager returns the lapps manager
func (s *Server) Manager() *lapps.Manager {
	return s.lapps
}

// Run serves HTTP until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, drains in-flight ones and tears down
// every lapp, the gossip transport and the engine
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.lapps.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("lapps shutdown: %w", err))
	}
	if err := s.gossip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("gossip shutdown: %w", err))
	}
	if err := s.engine.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Shutdown finished with errors", zap.Error(err))
		s.logger.Sync()
		return err
	}
	s.logger.Info("Server stopped")
	s.logger.Sync()
	return nil
}
