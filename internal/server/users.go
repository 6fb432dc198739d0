package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
)

// ListMyAccounts lists the accounts the caller holds a role in.
func (s *Server) ListMyAccounts(c *gin.Context) {
	accounts, err := s.tenancySvc.ListAccountsForUser(c.Request.Context(), c.GetString(contextUserIDKey))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

func (s *Server) AcceptInvitation(c *gin.Context) {
	var req acceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.tenancySvc.AcceptInvitation(c.Request.Context(), tenancydomain.AcceptInvitationRequest{
		Token:     strings.TrimSpace(req.Token),
		UserID:    c.GetString(contextUserIDKey),
		UserEmail: c.GetString(contextUserEmailKey),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) GetAccount(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	account, err := s.tenancySvc.GetAccount(c.Request.Context(), scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

type accountSettingsRequest struct {
	Settings map[string]any `json:"settings"`
}

func (s *Server) UpdateAccountSettings(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req accountSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Settings == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.tenancySvc.UpdateAccountSettings(c.Request.Context(), scope, req.Settings)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) ListAccountUsers(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	users, err := s.tenancySvc.ListUsers(c.Request.Context(), scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) AssignUserRole(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req tenancydomain.AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.tenancySvc.AssignRole(c.Request.Context(), scope, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) RemoveAccountUser(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	if err := s.tenancySvc.RemoveUser(c.Request.Context(), scope, strings.TrimSpace(c.Param("userId"))); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListInvitations(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	invitations, err := s.tenancySvc.ListInvitations(c.Request.Context(), scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invitations": invitations})
}

type createInvitationRequest struct {
	Email    string `json:"email"`
	Role     string `json:"role"`
	TTLHours int    `json:"ttlHours"`
}

func (s *Server) CreateInvitation(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	var req createInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TTLHours < 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	invitation, err := s.tenancySvc.CreateInvitation(c.Request.Context(), scope, tenancydomain.CreateInvitationRequest{
		Email: strings.TrimSpace(req.Email),
		Role:  strings.TrimSpace(req.Role),
		TTL:   time.Duration(req.TTLHours) * time.Hour,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invitation)
}

func (s *Server) CancelInvitation(c *gin.Context) {
	scope, ok := mustScope(c)
	if !ok {
		return
	}

	if err := s.tenancySvc.CancelInvitation(c.Request.Context(), scope, strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
