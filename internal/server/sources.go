package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jobdomain "github.com/smallbiznis/newsdesk/internal/job/domain"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
)

func (s *Server) ListSourceStatus(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	sources, err := s.sourceSvc.ListSourceStatus(c.Request.Context(), scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

func (s *Server) CreateSource(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req sourcedomain.CreateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	source, err := s.sourceSvc.CreateSource(c.Request.Context(), scope, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, source)
}

type sourceStatusRequest struct {
	IsActive *bool `json:"isActive"`
}

func (s *Server) SetSourceStatus(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req sourceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	source, err := s.sourceSvc.SetSourceActive(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")), *req.IsActive)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, source)
}

// RefreshSource queues a source_refresh job so the fetch runs on the worker.
func (s *Server) RefreshSource(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := parseSnowflakeID(id, "invalid_source_id"); err != nil {
		AbortWithError(c, err)
		return
	}
	s.enqueueTyped(c, jobdomain.TypeSourceRefresh, jobdomain.SourceRefreshPayload{SourceID: id})
}

// RefreshAllSources queues one source_refresh job covering every active source.
func (s *Server) RefreshAllSources(c *gin.Context) {
	s.enqueueTyped(c, jobdomain.TypeSourceRefresh, jobdomain.SourceRefreshPayload{})
}

func (s *Server) IngestArticle(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req sourcedomain.IngestArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	article, created, err := s.sourceSvc.IngestArticle(c.Request.Context(), scope, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"article": article, "created": created})
}

func (s *Server) GetScrapedArticle(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	article, err := s.sourceSvc.GetArticle(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, article)
}
