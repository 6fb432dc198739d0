package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	promptdomain "github.com/smallbiznis/newsdesk/internal/prompt/domain"
)

func (s *Server) ListTemplates(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}
	includeInactive, err := parseOptionalBool(c.Query("includeInactive"))
	if err != nil {
		AbortWithError(c, newValidationError("invalid_include_inactive", "includeInactive must be a boolean"))
		return
	}

	templates, err := s.promptSvc.ListTemplates(c.Request.Context(), scope, includeInactive != nil && *includeInactive)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (s *Server) GetTemplate(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	tmpl, err := s.promptSvc.GetTemplate(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (s *Server) CreateTemplate(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req promptdomain.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tmpl, err := s.promptSvc.CreateTemplate(c.Request.Context(), scope, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}

func (s *Server) UpdateTemplate(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req promptdomain.UpdateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tmpl, err := s.promptSvc.UpdateTemplate(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

type reorderRequest struct {
	Order []string `json:"order"`
}

// ReorderTemplates assigns executionOrder from the position of each id.
func (s *Server) ReorderTemplates(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Order == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	templates, err := s.promptSvc.Reorder(c.Request.Context(), scope, req.Order)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (s *Server) ListTemplateVersions(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	versions, err := s.promptSvc.ListVersions(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (s *Server) CreateTemplateVersion(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req promptdomain.CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	version, err := s.promptSvc.CreateVersion(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

func (s *Server) SetCurrentTemplateVersion(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	tmpl, err := s.promptSvc.SetCurrentVersion(c.Request.Context(), scope,
		strings.TrimSpace(c.Param("id")),
		strings.TrimSpace(c.Param("vid")),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// TestTemplateVersion renders and executes one version without persisting
// any artifact.
func (s *Server) TestTemplateVersion(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req promptdomain.TestVersionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := s.promptSvc.TestVersion(c.Request.Context(), scope,
		strings.TrimSpace(c.Param("id")),
		strings.TrimSpace(c.Param("vid")),
		req,
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
