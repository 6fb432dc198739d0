package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jobdomain "github.com/smallbiznis/newsdesk/internal/job/domain"
)

type enqueueJobRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) EnqueueJob(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req enqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.jobSvc.Enqueue(c.Request.Context(), scope, jobdomain.EnqueueRequest{
		Type:    strings.TrimSpace(req.Type),
		Payload: req.Payload,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("job_id", resp.JobID)
	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) GetJob(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	resp, err := s.jobSvc.Get(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListRecentJobs(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}
	limit, err := parseLimit(c.Query("limit"), defaultListLimit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	jobs, err := s.jobSvc.Recent(c.Request.Context(), scope, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) ListJobsByStatus(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}
	limit, err := parseLimit(c.Query("limit"), defaultListLimit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := strings.ToLower(strings.TrimSpace(c.Param("status")))
	jobs, err := s.jobSvc.ByStatus(c.Request.Context(), scope, status, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "jobs": jobs})
}

func (s *Server) GetJobStats(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	stats, err := s.jobSvc.Stats(c.Request.Context(), scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) CancelJob(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	resp, err := s.jobSvc.Cancel(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) RetryJob(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	resp, err := s.jobSvc.Retry(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StartWorker starts the in-process worker loop when this process hosts one.
func (s *Server) StartWorker(c *gin.Context) {
	if s.worker == nil {
		AbortWithError(c, ErrWorkerDisabled)
		return
	}
	started := s.worker.Start()
	c.JSON(http.StatusOK, gin.H{"started": started, "running": s.worker.Running()})
}

func (s *Server) GetWorkerStatus(c *gin.Context) {
	running := s.worker != nil && s.worker.Running()
	c.JSON(http.StatusOK, gin.H{"available": s.worker != nil, "running": running})
}

type fullCycleRequest struct {
	Limit        int `json:"limit"`
	AnalyzeLimit int `json:"analyzeLimit"`
}

func (s *Server) RunFullCycle(c *gin.Context) {
	var req fullCycleRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	s.enqueueTyped(c, jobdomain.TypeFullCycle, jobdomain.FullCyclePayload{
		Limit:        req.Limit,
		AnalyzeLimit: req.AnalyzeLimit,
	})
}

type analyzeRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) RunAnalysis(c *gin.Context) {
	var req analyzeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	s.enqueueTyped(c, jobdomain.TypeAnalyzeArticles, jobdomain.AnalyzeArticlesPayload{Limit: req.Limit})
}

// enqueueTyped marshals a typed payload and replies {jobId}.
func (s *Server) enqueueTyped(c *gin.Context, jobType string, payload any) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.jobSvc.Enqueue(c.Request.Context(), scope, jobdomain.EnqueueRequest{
		Type:    jobType,
		Payload: raw,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("job_id", resp.JobID)
	c.JSON(http.StatusAccepted, resp)
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, dest any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dest); err != nil {
		AbortWithError(c, invalidRequestError())
		return false
	}
	return true
}
