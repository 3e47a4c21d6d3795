package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agenthands/wikigraph/internal/core"
	"github.com/agenthands/wikigraph/internal/core/connectivity"
	"github.com/agenthands/wikigraph/internal/core/graph"
	"github.com/agenthands/wikigraph/internal/core/model"
)

type RelatedRequest struct {
	Query        string   `json:"query"`
	Context      []string `json:"context"`
	K            int      `json:"k" binding:"gte=0"`
	SemanticOnly bool     `json:"semantic_only"`
	Debug        bool     `json:"debug"`
}

func (r RelatedRequest) toCore(who *uuid.UUID) core.RelatedRequest {
	return core.RelatedRequest{
		Query:        r.Query,
		Context:      r.Context,
		K:            r.K,
		SemanticOnly: r.SemanticOnly,
		Debug:        r.Debug,
		Identity:     who,
	}
}

type ConnectRequest struct {
	NewIDs      []int64 `json:"new_ids" binding:"required"`
	ExistingIDs []int64 `json:"existing_ids"`
	// Threshold and MaxPerNode override the configured defaults when set.
	Threshold  *float64 `json:"threshold" binding:"omitempty,gte=0,lt=1"`
	MaxPerNode int      `json:"max_per_node" binding:"gte=0"`
}

func (r ConnectRequest) options(who *uuid.UUID) connectivity.Options {
	return connectivity.Options{Threshold: r.Threshold, MaxPerNode: r.MaxPerNode, Identity: who}
}

type ExpandRequest struct {
	RelatedRequest
	Graph graph.Snapshot `json:"graph"`
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, s.Explorer.Health())
}

func (s *Server) Related(c *gin.Context) {
	var req RelatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return
	}
	who, err := identityFrom(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp, err := s.Explorer.Related(c.Request.Context(), req.toCore(who))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RelatedByPath serves GET /api/related/<query>?k=&semantic_only=&debug=&context=a,b
func (s *Server) RelatedByPath(c *gin.Context) {
	req := RelatedRequest{
		Query:        strings.TrimPrefix(c.Param("query"), "/"),
		SemanticOnly: queryBool(c, "semantic_only"),
		Debug:        queryBool(c, "debug"),
	}
	if raw := c.Query("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k < 0 {
			s.respondError(c, fmt.Errorf("%w: k must be a non-negative integer", model.ErrInvalidInput))
			return
		}
		req.K = k
	}
	for _, ref := range c.QueryArray("context") {
		req.Context = append(req.Context, strings.Split(ref, ",")...)
	}
	who, err := identityFrom(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp, err := s.Explorer.Related(c.Request.Context(), req.toCore(who))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return
	}
	who, err := identityFrom(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	edges, err := s.Explorer.Connect(c.Request.Context(), req.NewIDs, req.ExistingIDs, req.options(who))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cross_edges": edges})
}

func (s *Server) Expand(c *gin.Context) {
	var req ExpandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return
	}
	who, err := identityFrom(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp, err := s.Explorer.Expand(c.Request.Context(), graph.FromSnapshot(req.Graph), req.toCore(who))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Article(c *gin.Context) {
	a, err := s.Explorer.Article(c.Request.Context(), strings.TrimPrefix(c.Param("title"), "/"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// identityFrom reads the optional caller identity header.
func identityFrom(c *gin.Context) (*uuid.UUID, error) {
	raw := strings.TrimSpace(c.GetHeader(headerIdentity))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s header", model.ErrInvalidInput, headerIdentity)
	}
	return &id, nil
}

func queryBool(c *gin.Context, name string) bool {
	v, err := strconv.ParseBool(c.Query(name))
	return err == nil && v
}
