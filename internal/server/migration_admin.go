package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	contentdomain "github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/internal/contentmigration"
)

func (s *Server) GetMigrationProgress(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	progress, err := s.migrationSvc.Progress(c.Request.Context(), scope.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accountId": scope.AccountID.String(), "types": progress})
}

type backfillRequest struct {
	ContentType string `json:"contentType"`
	DryRun      *bool  `json:"dryRun"`
	BatchSize   int    `json:"batchSize"`
}

// RunBackfill migrates the caller's account. Without a contentType every
// legacy type is processed in backfill order.
func (s *Server) RunBackfill(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req backfillRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.BatchSize < 0 {
		AbortWithError(c, newValidationError("invalid_batch_size", "batchSize must not be negative"))
		return
	}

	opts := s.migrationSvc.DefaultOptions()
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}

	types := contentdomain.LegacyTypes
	if contentType := strings.TrimSpace(req.ContentType); contentType != "" {
		types = []string{contentType}
	}

	reports := make([]contentmigration.Report, 0, len(types))
	for _, contentType := range types {
		report, err := s.migrationSvc.Backfill(c.Request.Context(), scope.AccountID, contentType, opts)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		reports = append(reports, *report)
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

type rollbackRequest struct {
	ContentType string `json:"contentType"`
	LegacyID    string `json:"legacyId"`
	DryRun      bool   `json:"dryRun"`
}

func (s *Server) RunMigrationRollback(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	legacyID, err := parseSnowflakeID(req.LegacyID, "invalid_legacy_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.migrationSvc.Rollback(c.Request.Context(), scope.AccountID, strings.TrimSpace(req.ContentType), legacyID, req.DryRun)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
