// Package server assembles the gin engine and runs the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/authgate/internal/api"
	"github.com/jmerrifield20/authgate/internal/health"
	"github.com/jmerrifield20/authgate/internal/identity"
	"github.com/jmerrifield20/authgate/internal/users"
	"go.uber.org/zap"
)

// Options carries everything the router needs.
type Options struct {
	Users       *users.Service
	Verifier    identity.TokenVerifier
	Health      *health.Checker
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter builds the gin engine with middleware and all routes registered.
func NewRouter(opts Options) *gin.Engine {
	logger := opts.Logger

	router := gin.New()
	router.Use(gin.Recovery())

	// CORS; cors.New panics on an empty origin list.
	if len(opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{"GET", "PATCH", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: !containsWildcard(opts.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	router.Use(api.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	// Health (public, no auth)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Health != nil {
		router.GET("/readyz", opts.Health.Handler())
	}
	router.GET("/metrics", api.MetricsHandler())

	authn := identity.NewAuthenticator(opts.Verifier, logger)
	authn.SetObserver(api.RecordAuthDecision)

	v1 := router.Group("/api/v1")
	api.NewUserHandler(opts.Users, authn.Gin(), logger).Register(v1)

	return router
}

// Run serves handler on addr until ctx is cancelled, then drains in-flight
// requests for up to 15 seconds.
func Run(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authgate HTTP listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down authgate...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("authgate stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
