package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/core"
	"github.com/agenthands/wikigraph/internal/core/connectivity"
	"github.com/agenthands/wikigraph/internal/core/graph"
	"github.com/agenthands/wikigraph/internal/core/model"
	"github.com/agenthands/wikigraph/internal/logger"
)

const (
	headerIdentity  = "X-Identity-ID"
	headerRequestID = "X-Request-Id"
)

// Explorer is what the HTTP layer needs from core.Explorer.
type Explorer interface {
	Related(ctx context.Context, req core.RelatedRequest) (*core.RelatedResponse, error)
	Connect(ctx context.Context, newIDs, existingIDs []int64, opts connectivity.Options) ([]model.TitledEdge, error)
	Expand(ctx context.Context, g *graph.Graph, req core.RelatedRequest) (*core.ExpandResponse, error)
	Article(ctx context.Context, title string) (*core.ArticleDetails, error)
	Health() core.Health
}

type Server struct {
	Explorer Explorer
	cfg      config.ServerConfig
	log      *logger.Logger
	closers  []func() error
}

func New(explorer Explorer, cfg config.ServerConfig, log *logger.Logger) *Server {
	return &Server{
		Explorer: explorer,
		cfg:      cfg,
		log:      log.With("component", "http"),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.requestLogger())
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", headerIdentity, headerRequestID},
			ExposeHeaders:    []string{headerRequestID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	api := r.Group("/api")
	{
		api.GET("/health", s.Health)
		api.POST("/related", s.Related)
		api.GET("/related/*query", s.RelatedByPath)
		api.POST("/connect", s.Connect)
		api.POST("/expand", s.Expand)
		api.GET("/article/*title", s.Article)
	}
	return r
}

// Close releases the stores opened by NewServer.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString("request_id"),
		}
		switch {
		case status >= 500:
			s.log.Error("HTTP request", fields...)
		case status >= 400:
			s.log.Warn("HTTP request", fields...)
		default:
			s.log.Info("HTTP request", fields...)
		}
	}
}

// respondError maps domain errors onto status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, model.ErrUpstreamUnavailable):
		status, msg = http.StatusServiceUnavailable, err.Error()
	default:
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
