package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	healthPathRoot   = "/"
	healthPathHealth = "/healthz"
	healthPathStatus = "/status"
	pprofPrefix      = "/debug"

	healthRootBody = "✅ Bot is running!"
)

const (
	xRequestIDHeader = "X-Request-ID"
)

var (
	structValidator = validator.New()
)

// statusProvider reports the bot's state for the status endpoint
type statusProvider interface {
	Status() StatusReport
}

// HealthServer serves the health check and status endpoints used by
// hosting platforms to keep the bot alive.
type HealthServer struct {
	config     *HealthConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	status     statusProvider
	logger     *slog.Logger
}

// HealthResponse is the body of the health check endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version"`
}

func newHealthServer(config *HealthConfig, status statusProvider, logger *slog.Logger) *HealthServer {
	if !config.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	s := &HealthServer{
		config: config,
		engine: r,
		status: status,
		logger: logger,
	}
	s.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(healthPathRoot, s.root)
	r.HEAD(healthPathRoot, s.root)
	r.GET(healthPathHealth, s.health)
	r.GET(healthPathStatus, s.statusReport)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}
	return s
}

func (s *HealthServer) root(c *gin.Context) {
	c.String(http.StatusOK, healthRootBody)
}

func (s *HealthServer) health(c *gin.Context) {
	report := s.status.Status()
	c.JSON(
		http.StatusOK,
		HealthResponse{
			Status:    "ok",
			Connected: report.Connected,
			Uptime:    report.Uptime,
			Version:   report.Version,
		},
	)
}

func (s *HealthServer) statusReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Status())
}

// Serve listens on the configured address and serves requests until
// Shutdown is called
func (s *HealthServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, s.config.ListenNetwork, s.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", s.config.Listen, err)
		}
		s.listener = ln
	}
	s.logger.InfoContext(ctx, "health server listening", "addr", s.listener.Addr().String())
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *HealthServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestIDMiddleware sets a unique ID on each request, and echoes it
// in the X-Request-ID response header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(xRequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request's logger, creating one with the
// request details and ID if it isn't set yet.
func ginContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	if base == nil {
		base = slog.Default()
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request with its duration and response
// status. Successful requests are logged at DEBUG.
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := ginContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		msg := fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL.Path)
		switch {
		case len(c.Errors) > 0:
			requestLogger.Error(msg, "duration", latency, "errors", c.Errors.String(), response)
		case c.Writer.Status() >= http.StatusInternalServerError:
			requestLogger.Warn(msg, "duration", latency, response)
		default:
			requestLogger.Debug(msg, "duration", latency, response)
		}
	}
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}
