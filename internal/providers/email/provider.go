package email

import "context"

// Provider delivers HTML mail. Invitation notices are the only sender today.
type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	// SendTemplate renders templates/<name>.html with data before sending.
	SendTemplate(ctx context.Context, to []string, name string, data map[string]any) error
}

// NoOpProvider drops every message. It is used when SMTP_HOST is unset so
// invitations still work through the returned token.
type NoOpProvider struct{}

func (NoOpProvider) Send(context.Context, []string, string, string) error { return nil }

func (NoOpProvider) SendTemplate(context.Context, []string, string, map[string]any) error {
	return nil
}
