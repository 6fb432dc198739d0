package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	contentdomain "github.com/smallbiznis/newsdesk/internal/content/domain"
	jobdomain "github.com/smallbiznis/newsdesk/internal/job/domain"
)

func (s *Server) ListReview(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}
	limit, err := parseLimit(c.Query("limit"), defaultListLimit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	offset, err := parseOffset(c.Query("offset"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	page, err := s.contentSvc.ListReview(c.Request.Context(), scope, contentdomain.ReviewRequest{
		Status: strings.TrimSpace(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) GetGeneratedArticle(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	item, err := s.contentSvc.GetArticle(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) UpdateContentStatus(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	contentType := strings.TrimSpace(c.Param("type"))
	id := strings.TrimSpace(c.Param("id"))
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if err := s.contentSvc.UpdateStatus(c.Request.Context(), scope, contentType, id, status); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "type": contentType, "status": status})
}

func (s *Server) GetContentStats(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	stats, err := s.contentSvc.Stats(c.Request.Context(), scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type generateRequest struct {
	SpecificStoryID string   `json:"specificStoryId"`
	Limit           int      `json:"limit"`
	TemplateIDs     []string `json:"templateIds"`
}

// GenerateContent queues a content_generation job and returns immediately.
func (s *Server) GenerateContent(c *gin.Context) {
	var req generateRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	s.enqueueTyped(c, jobdomain.TypeContentGeneration, jobdomain.ContentGenerationPayload{
		SpecificStoryID: strings.TrimSpace(req.SpecificStoryID),
		Limit:           req.Limit,
		TemplateIDs:     req.TemplateIDs,
	})
}

func (s *Server) RegenerateArticle(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	resp, err := s.contentSvc.Regenerate(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("job_id", resp.JobID)
	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) ListResponseLogs(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}
	limit, err := parseLimit(c.Query("limit"), defaultListLimit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	logs, err := s.contentSvc.ResponseLogs(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
