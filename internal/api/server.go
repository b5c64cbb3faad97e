// Package api implements the HTTP serving mode of the JSON Remodeler.
// It exposes the remodeling pipeline behind a Gin server with Prometheus
// metrics, structured request logging, and live configuration reload.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/JSONRemodeler/internal/api/middleware"
	"github.com/router-for-me/JSONRemodeler/internal/buildinfo"
	"github.com/router-for-me/JSONRemodeler/internal/config"
	"github.com/router-for-me/JSONRemodeler/internal/llm"
	"github.com/router-for-me/JSONRemodeler/internal/logging"
	"github.com/router-for-me/JSONRemodeler/internal/store"
	"github.com/router-for-me/JSONRemodeler/sdk/remodel"
	"github.com/router-for-me/JSONRemodeler/sdk/tokencount"
)

// serverOptionConfig holds optional hooks applied during server construction.
type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	engineConfigurator func(*gin.Engine)
	processor          remodel.Processor
	sizer              remodel.Sizer
	ledger             *store.Store
}

// ServerOption customizes optional server behavior during construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithEngineConfigurator allows callers to adjust the Gin engine before
// middleware and routes are installed.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.engineConfigurator = fn
	}
}

// WithProcessor replaces the collaborator-backed unit processor. Tests use
// this to run the pipeline without network access.
func WithProcessor(proc remodel.Processor) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.processor = proc
	}
}

// WithSizer replaces the token sizer used to plan work units.
func WithSizer(sz remodel.Sizer) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.sizer = sz
	}
}

// WithLedger attaches a run ledger so serve-mode requests are recorded.
func WithLedger(ledger *store.Store) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.ledger = ledger
	}
}

// procBox keeps the stored concrete type stable across atomic swaps.
type procBox struct {
	proc remodel.Processor
}

// Server wires the remodeling pipeline behind an HTTP API.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	cfgPath string

	cfgHolder  atomic.Value // *config.Config
	procHolder atomic.Value // procBox

	fixedProcessor bool
	sizer          remodel.Sizer
	ledger         *store.Store

	watcher     *fsnotify.Watcher
	watcherStop chan struct{}
	watcherDone chan struct{}
}

// NewServer creates a Server from the given configuration. cfgPath is the
// file the configuration was loaded from; it is used for live reload and
// may be empty when the configuration was built in memory.
func NewServer(cfg *config.Config, cfgPath string, opts ...ServerOption) *Server {
	optionState := serverOptionConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&optionState)
		}
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if optionState.engineConfigurator != nil {
		optionState.engineConfigurator(engine)
	}

	middleware.SetMetricsEnabled(cfg.Server.IsMetricsEnabled())

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.PrometheusMiddleware())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	sizer := optionState.sizer
	if sizer == nil {
		sizer = tokencount.New()
	}

	s := &Server{
		engine:  engine,
		cfgPath: cfgPath,
		sizer:   sizer,
		ledger:  optionState.ledger,
	}
	s.cfgHolder.Store(cfg)

	if optionState.processor != nil {
		s.fixedProcessor = true
		s.procHolder.Store(procBox{proc: optionState.processor})
	} else {
		s.procHolder.Store(procBox{proc: llm.NewCollaborator(cfg)})
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.GetPort()),
		Handler: engine,
	}

	return s
}

// setupRoutes configures the API routes for the server.
func (s *Server) setupRoutes() {
	v1 := s.engine.Group("/v1")
	{
		v1.POST("/remodel", s.handleRemodel)
		v1.POST("/decompose", s.handleDecompose)
		v1.GET("/runs", s.handleRuns)
	}

	// Root-level mirrors for clients that don't add the /v1 prefix.
	s.engine.POST("/remodel", s.handleRemodel)
	s.engine.POST("/decompose", s.handleDecompose)

	// Health check endpoint for readiness probes.
	s.engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		cfg := s.getConfig()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "port": cfg.Server.GetPort()})
	})

	// Prometheus metrics endpoint for observability.
	s.engine.GET("/metrics", middleware.MetricsHandler())

	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "JSON Remodeler",
			"version": buildinfo.Version,
			"endpoints": []string{
				"POST /v1/remodel",
				"POST /v1/decompose",
				"GET /v1/runs",
			},
		})
	})
}

// Handler exposes the underlying HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the HTTP server until Stop is called. It blocks.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}
	log.Debugf("starting API server on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts down the server without interrupting active
// requests beyond the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server...")

	s.stopConfigWatch()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}

	log.Debug("API server stopped")
	return nil
}

// getConfig returns the current configuration snapshot.
func (s *Server) getConfig() *config.Config {
	return s.cfgHolder.Load().(*config.Config)
}

// currentProcessor returns the processor serving unit requests.
func (s *Server) currentProcessor() remodel.Processor {
	return s.procHolder.Load().(procBox).proc
}

// WatchConfig starts watching the configuration file for changes and
// reloads it in place. Port changes still require a restart.
func (s *Server) WatchConfig() error {
	if s.cfgPath == "" {
		return fmt.Errorf("no configuration file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory, not the file: editors replace files by rename
	// and a file watch would be dropped on the first save.
	if err = w.Add(filepath.Dir(s.cfgPath)); err != nil {
		_ = w.Close()
		return err
	}

	s.watcher = w
	s.watcherStop = make(chan struct{})
	s.watcherDone = make(chan struct{})
	go s.watchConfigLoop()

	log.Debugf("watching configuration file %s", s.cfgPath)
	return nil
}

// watchConfigLoop debounces filesystem events and applies reloads once
// writes have settled.
func (s *Server) watchConfigLoop() {
	defer close(s.watcherDone)

	const settle = 500 * time.Millisecond
	var pending time.Time
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	target := filepath.Clean(s.cfgPath)
	for {
		select {
		case <-s.watcherStop:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.Now()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher error: %v", err)
		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < settle {
				continue
			}
			pending = time.Time{}
			s.reloadConfig()
		}
	}
}

// reloadConfig swaps in a fresh configuration snapshot. A failed load
// keeps the previous snapshot.
func (s *Server) reloadConfig() {
	cfg, err := config.LoadConfig(s.cfgPath)
	if err != nil {
		log.Warnf("config reload failed, keeping previous configuration: %v", err)
		return
	}

	old := s.getConfig()
	s.cfgHolder.Store(cfg)
	if !s.fixedProcessor {
		s.procHolder.Store(procBox{proc: llm.NewCollaborator(cfg)})
	}
	middleware.SetMetricsEnabled(cfg.Server.IsMetricsEnabled())
	logging.SetDebug(cfg.Debug)

	if old.Server.GetPort() != cfg.Server.GetPort() {
		log.Warnf("server port changed from %d to %d; restart required to apply", old.Server.GetPort(), cfg.Server.GetPort())
	}
	log.Infof("configuration reloaded from %s", s.cfgPath)
}

func (s *Server) stopConfigWatch() {
	if s.watcher == nil {
		return
	}
	close(s.watcherStop)
	<-s.watcherDone
	if err := s.watcher.Close(); err != nil {
		log.Warnf("config watcher close: %v", err)
	}
	s.watcher = nil
}
