package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/astral-systems/starmap/cachemgr"
	"github.com/astral-systems/starmap/cachestore"
	"github.com/astral-systems/starmap/entitymgr"
	"github.com/astral-systems/starmap/events"
	"github.com/astral-systems/starmap/popularity"
	"github.com/astral-systems/starmap/ratelimit"
	"github.com/astral-systems/starmap/tablestore"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
)

type Server struct {
	mgr    *entitymgr.Manager
	store  tablestore.Store
	bus    *events.EventManager
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger

	// short fixed-TTL cache of serialized list responses, so a burst of
	// map refreshes does not turn into a burst of table scans
	listCache *lru.LRU[string, []byte]

	popularityWindow time.Duration
	adminAPIKey      string
	redisEnabled     bool

	// stops the cache store's background work (sweeper or redis client)
	cacheClose func()
}

type Config struct {
	Logger              *slog.Logger
	Bind                string
	DatabaseURL         string
	MaxDBConnections    int
	RedisURL            string
	CacheTTL            time.Duration
	PopularCacheTTL     time.Duration
	PopularityThreshold int
	PopularityWindow    time.Duration
	RateLimitTimes      int
	RateLimitWindow     time.Duration
	ScanLimit           int64
	AdminAPIKey         string
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	db, err := tablestore.SetupDatabase(config.DatabaseURL, config.MaxDBConnections)
	if err != nil {
		return nil, err
	}
	store, err := tablestore.NewGormStore(db)
	if err != nil {
		return nil, err
	}

	// redis-backed cache, popularity, and admission when a URL is
	// configured; otherwise everything runs in-process
	var (
		cache      cachestore.CacheStore
		cacheClose func()
		tracker    popularity.Tracker
		limiter    ratelimit.Limiter
	)
	if config.RedisURL != "" {
		rc, err := cachestore.NewRedisCacheStore(config.RedisURL, 10_000, time.Minute)
		if err != nil {
			return nil, err
		}
		cache = rc
		cacheClose = rc.Close
		tracker, err = popularity.NewRedisTracker(config.RedisURL, config.PopularityThreshold, config.PopularityWindow)
		if err != nil {
			return nil, err
		}
		limiter, err = ratelimit.NewRedisLimiter(config.RedisURL, config.RateLimitTimes, config.RateLimitWindow)
		if err != nil {
			return nil, err
		}
	} else {
		mc := cachestore.NewMemCacheStore(time.Minute)
		cache = mc
		cacheClose = mc.Close
		tracker = popularity.NewMemTracker(config.PopularityThreshold, config.PopularityWindow)
		limiter = ratelimit.NewMemLimiter(config.RateLimitTimes, config.RateLimitWindow)
	}

	cm := cachemgr.NewManager(cache, tracker, config.CacheTTL, config.PopularCacheTTL, logger)

	bus := events.NewEventManager(logger)
	go bus.Run()

	mgr := entitymgr.NewManager(store, cm, limiter, bus,
		ratelimit.NewScanGate(config.ScanLimit, time.Minute), logger)

	e := echo.New()

	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		mgr:              mgr,
		store:            store,
		bus:              bus,
		echo:             e,
		logger:           logger,
		listCache:        lru.NewLRU[string, []byte](64, nil, 5*time.Second),
		popularityWindow: config.PopularityWindow,
		adminAPIKey:      config.AdminAPIKey,
		redisEnabled:     config.RedisURL != "",
		cacheClose:       cacheClose,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/health", srv.HandleHealthCheck)
	e.GET("/health/readiness", srv.HandleReadiness)
	e.GET("/health/liveness", srv.HandleLiveness)

	e.GET("/stars", srv.HandleListStars)
	e.POST("/stars", srv.HandleCreateStar)
	e.GET("/stars/active", srv.HandleActiveStars)
	e.GET("/stars/popular", srv.HandlePopularStars)
	e.GET("/stars/batch/:ids", srv.HandleBatchStars)
	e.GET("/stars/stream", srv.HandleStarStream)
	e.GET("/stars/:id", srv.HandleGetStar)
	e.PUT("/stars/:id", srv.HandleUpdateStar)
	e.DELETE("/stars/:id", srv.HandleDeleteStar)
	e.POST("/stars/:id/like", srv.HandleLikeStar)

	e.GET("/users", srv.HandleListUsers)
	e.POST("/users", srv.HandleCreateUser)
	e.GET("/users/stream", srv.HandleUserStream)
	e.GET("/users/:id", srv.HandleGetUser)
	e.PUT("/users/:id", srv.HandleUpdateUser)
	e.DELETE("/users/:id", srv.HandleDeleteUser)

	e.GET("/stats/cache", srv.HandleCacheStats)

	admin := e.Group("/admin", srv.requireAdminKey)
	admin.DELETE("/stars", srv.HandleRemoveAllStars)
	admin.GET("/status", srv.HandleAdminStatus)

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	// Wait for a signal to exit.
	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)

		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}

		close(quit)
	}()
	<-quit
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// stop accepting requests first, then close event streams
	if err := srv.httpd.Shutdown(ctx); err != nil {
		return err
	}
	if err := srv.bus.Shutdown(ctx); err != nil {
		return err
	}
	srv.cacheClose()
	return nil
}
