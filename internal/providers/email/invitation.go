package email

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/newsdesk/internal/tenancy/domain"
)

const TemplateInvitation = "invite_member"

// InvitationMailer renders invitation notices through a Provider.
type InvitationMailer struct {
	provider Provider
	appURL   string
}

func NewInvitationMailer(provider Provider, appURL string) *InvitationMailer {
	return &InvitationMailer{provider: provider, appURL: strings.TrimRight(appURL, "/")}
}

func (m *InvitationMailer) SendInvitation(ctx context.Context, notice domain.InvitationNotice) error {
	accept := m.appURL + "/invitations/accept?token=" + url.QueryEscape(notice.Token)
	return m.provider.SendTemplate(ctx, []string{notice.Email}, TemplateInvitation, map[string]any{
		"account_name": notice.AccountName,
		"role":         notice.Role,
		"invited_by":   notice.InvitedBy,
		"accept_url":   accept,
		"expires_at":   notice.ExpiresAt.UTC().Format(time.RFC1123),
	})
}
