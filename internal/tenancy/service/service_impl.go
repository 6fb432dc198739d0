package service

import (
	"context"
	"encoding/hex"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
	"gorm.io/gorm"
)

const defaultInvitationTTL = 7 * 24 * time.Hour

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   domain.Repository
	GenID  *snowflake.Node
	Clock  clock.Clock
	Mailer domain.InvitationMailer `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   domain.Repository
	genID  *snowflake.Node
	clock  clock.Clock
	mailer domain.InvitationMailer
}

func NewService(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("tenancy.service"),
		repo:   p.Repo,
		genID:  p.GenID,
		clock:  p.Clock,
		mailer: p.Mailer,
	}
}

func (s *Service) ResolveScope(ctx context.Context, req domain.ScopeRequest) (accountctx.Scope, error) {
	rawAccount := strings.TrimSpace(req.AccountID)
	if rawAccount == "" {
		return accountctx.Scope{}, domain.ErrScopeMissing
	}
	accountID, err := snowflake.ParseString(rawAccount)
	if err != nil || accountID == 0 {
		return accountctx.Scope{}, domain.ErrAccountNotFound
	}

	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return accountctx.Scope{}, err
	}

	scope := accountctx.Scope{
		OrganizationID: account.OrganizationID,
		AccountID:      account.ID,
		UserID:         strings.TrimSpace(req.UserID),
		UserEmail:      strings.TrimSpace(req.UserEmail),
	}
	if scope.UserID == "" {
		return scope, nil
	}

	globalRole, err := s.repo.GetGlobalRole(ctx, scope.UserID)
	if err != nil {
		return accountctx.Scope{}, db.Classify(err)
	}
	if accountctx.IsGlobalRole(globalRole) {
		scope.GlobalRole = accountctx.NormalizeRole(globalRole)
		return scope, nil
	}

	role, err := s.repo.GetAccountRole(ctx, account.ID, scope.UserID)
	if err != nil {
		return accountctx.Scope{}, db.Classify(err)
	}
	if role == "" {
		role, err = s.repo.GetOrganizationRole(ctx, account.OrganizationID, scope.UserID)
		if err != nil {
			return accountctx.Scope{}, db.Classify(err)
		}
	}
	if !accountctx.IsAccountRole(role) {
		return accountctx.Scope{}, domain.ErrNotMember
	}
	scope.Role = accountctx.NormalizeRole(role)

	if err := s.repo.TouchLastAccess(ctx, account.ID, scope.UserID, s.clock.Now()); err != nil {
		s.log.Warn("failed to record last access", zap.Error(err))
	}
	return scope, nil
}

func (s *Service) SystemScope(ctx context.Context, accountID string) (accountctx.Scope, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(accountID))
	if err != nil || id == 0 {
		return accountctx.Scope{}, domain.ErrAccountNotFound
	}
	account, err := s.activeAccount(ctx, id)
	if err != nil {
		return accountctx.Scope{}, err
	}
	return accountctx.System(account.OrganizationID, account.ID), nil
}

func (s *Service) activeAccount(ctx context.Context, accountID snowflake.ID) (*domain.AccountRecord, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	if !account.IsActive || !account.OrganizationActive {
		return nil, domain.ErrAccountInactive
	}
	return account, nil
}

func (s *Service) CreateOrganization(ctx context.Context, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	now := s.clock.Now()
	org := domain.Organization{
		ID:        s.genID.Generate(),
		Name:      name,
		IsActive:  true,
		Settings:  nonNilMap(req.Settings),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateOrganization(ctx, org); err != nil {
		return nil, db.Classify(err)
	}
	return &domain.OrganizationResponse{
		ID:       org.ID.String(),
		Name:     org.Name,
		IsActive: org.IsActive,
		Settings: org.Settings,
	}, nil
}

func (s *Service) CreateAccount(ctx context.Context, req domain.CreateAccountRequest) (*domain.AccountResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrganizationID))
	if err != nil || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if org == nil || !org.IsActive {
		return nil, domain.ErrInvalidOrganization
	}

	now := s.clock.Now()
	account := domain.Account{
		ID:             s.genID.Generate(),
		OrganizationID: orgID,
		Name:           name,
		Slug:           slug.Make(name),
		IsActive:       true,
		Settings:       nonNilMap(req.Settings),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateAccount(ctx, account); err != nil {
			return err
		}
		owner := strings.TrimSpace(req.OwnerUserID)
		if owner == "" {
			return nil
		}
		return repo.UpsertAccountAssignment(ctx, domain.UserAccountAssignment{
			ID:         s.genID.Generate(),
			UserID:     owner,
			AccountID:  account.ID,
			UserEmail:  strings.TrimSpace(req.OwnerEmail),
			Role:       accountctx.RoleOwner,
			AssignedAt: now,
		})
	})
	if err != nil {
		return nil, db.Classify(err)
	}

	s.log.Info("account created",
		zap.String("account_id", account.ID.String()),
		zap.String("organization_id", orgID.String()),
	)
	return toAccountResponse(account), nil
}

func (s *Service) GetAccount(ctx context.Context, scope accountctx.Scope) (*domain.AccountResponse, error) {
	account, err := s.activeAccount(ctx, scope.AccountID)
	if err != nil {
		return nil, err
	}
	return toAccountResponse(account.Account), nil
}

func (s *Service) ListAccountsForUser(ctx context.Context, userID string) ([]domain.AccountResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	accounts, err := s.repo.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, db.Classify(err)
	}
	resp := make([]domain.AccountResponse, 0, len(accounts))
	for _, account := range accounts {
		resp = append(resp, *toAccountResponse(account))
	}
	return resp, nil
}

// UpdateAccountSettings merges settings into the existing JSON; a nil value removes a key.
func (s *Service) UpdateAccountSettings(ctx context.Context, scope accountctx.Scope, settings map[string]any) (*domain.AccountResponse, error) {
	account, err := s.activeAccount(ctx, scope.AccountID)
	if err != nil {
		return nil, err
	}
	merged := nonNilMap(account.Settings)
	for key, value := range settings {
		if value == nil {
			delete(merged, key)
			continue
		}
		merged[key] = value
	}
	if _, err := parseSettings(merged); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.repo.UpdateAccountSettings(ctx, account.ID, merged, now); err != nil {
		return nil, db.Classify(err)
	}
	account.Settings = merged
	account.UpdatedAt = now
	return toAccountResponse(account.Account), nil
}

func (s *Service) Settings(ctx context.Context, accountID string) (domain.AccountSettings, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(accountID))
	if err != nil || id == 0 {
		return domain.AccountSettings{}, domain.ErrAccountNotFound
	}
	account, err := s.activeAccount(ctx, id)
	if err != nil {
		return domain.AccountSettings{}, err
	}
	return parseSettings(account.Settings)
}

func (s *Service) GrantGlobalRole(ctx context.Context, userID, role string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ErrInvalidUser
	}
	if !accountctx.IsGlobalRole(role) {
		return domain.ErrInvalidRole
	}
	return db.Classify(s.repo.GrantGlobalRole(ctx, domain.GlobalRoleGrant{
		UserID:    userID,
		Role:      accountctx.NormalizeRole(role),
		CreatedAt: s.clock.Now(),
	}))
}

func (s *Service) ListUsers(ctx context.Context, scope accountctx.Scope) ([]domain.UserResponse, error) {
	rows, err := s.repo.ListAccountAssignments(ctx, scope.AccountID)
	if err != nil {
		return nil, db.Classify(err)
	}
	resp := make([]domain.UserResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, toUserResponse(row))
	}
	return resp, nil
}

func (s *Service) AssignRole(ctx context.Context, scope accountctx.Scope, req domain.AssignRoleRequest) (*domain.UserResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	role := accountctx.NormalizeRole(req.Role)
	if !accountctx.IsAccountRole(role) {
		return nil, domain.ErrInvalidRole
	}
	// Only owners may hand out the owner role.
	if role == accountctx.RoleOwner && scope.EffectiveRole() != accountctx.RoleOwner && scope.GlobalRole != accountctx.GlobalRoleSuperAdmin {
		return nil, apperr.Forbidden("owner_grant_requires_owner")
	}

	assignment := domain.UserAccountAssignment{
		ID:         s.genID.Generate(),
		UserID:     userID,
		AccountID:  scope.AccountID,
		UserEmail:  strings.TrimSpace(req.UserEmail),
		Role:       role,
		AssignedAt: s.clock.Now(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.GetAccountRole(ctx, scope.AccountID, userID)
		if err != nil {
			return err
		}
		if current == accountctx.RoleOwner && role != accountctx.RoleOwner {
			if err := ensureAnotherOwner(ctx, repo, scope.AccountID); err != nil {
				return err
			}
		}
		return repo.UpsertAccountAssignment(ctx, assignment)
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	resp := toUserResponse(assignment)
	return &resp, nil
}

func (s *Service) RemoveUser(ctx context.Context, scope accountctx.Scope, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ErrInvalidUser
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.GetAccountRole(ctx, scope.AccountID, userID)
		if err != nil {
			return err
		}
		if current == "" {
			return domain.ErrUserNotFound
		}
		if current == accountctx.RoleOwner {
			if err := ensureAnotherOwner(ctx, repo, scope.AccountID); err != nil {
				return err
			}
		}
		_, err = repo.DeleteAccountAssignment(ctx, scope.AccountID, userID)
		return err
	})
	return db.Classify(err)
}

func ensureAnotherOwner(ctx context.Context, repo domain.Repository, accountID snowflake.ID) error {
	owners, err := repo.CountOwners(ctx, accountID)
	if err != nil {
		return err
	}
	if owners <= 1 {
		return domain.ErrLastOwner
	}
	return nil
}

func (s *Service) CreateInvitation(ctx context.Context, scope accountctx.Scope, req domain.CreateInvitationRequest) (*domain.InvitationResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	role := accountctx.NormalizeRole(req.Role)
	if !accountctx.IsAccountRole(role) || role == accountctx.RoleOwner {
		return nil, domain.ErrInvalidRole
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = defaultInvitationTTL
	}

	now := s.clock.Now()
	token := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	inv := domain.Invitation{
		ID:           s.genID.Generate(),
		AccountID:    scope.AccountID,
		InvitedEmail: email,
		Role:         role,
		InvitedBy:    scope.UserID,
		TokenHash:    hashToken(token),
		ExpiresAt:    now.Add(ttl),
		Status:       domain.InvitationPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateInvitation(ctx, inv); err != nil {
		return nil, db.Classify(err)
	}

	s.notifyInvitee(ctx, inv, token)

	resp := toInvitationResponse(inv)
	resp.Token = token
	return &resp, nil
}

// notifyInvitee mails the token. The invitation stands when delivery fails
// since the token is also returned to the inviter.
func (s *Service) notifyInvitee(ctx context.Context, inv domain.Invitation, token string) {
	if s.mailer == nil {
		return
	}
	accountName := ""
	if account, err := s.repo.GetAccount(ctx, inv.AccountID); err == nil && account != nil {
		accountName = account.Name
	}
	err := s.mailer.SendInvitation(ctx, domain.InvitationNotice{
		Email:       inv.InvitedEmail,
		AccountName: accountName,
		Role:        inv.Role,
		InvitedBy:   inv.InvitedBy,
		Token:       token,
		ExpiresAt:   inv.ExpiresAt,
	})
	if err != nil {
		s.log.Warn("invitation email failed",
			zap.String("invitation_id", inv.ID.String()),
			zap.String("account_id", inv.AccountID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) ListInvitations(ctx context.Context, scope accountctx.Scope) ([]domain.InvitationResponse, error) {
	rows, err := s.repo.ListInvitations(ctx, scope.AccountID)
	if err != nil {
		return nil, db.Classify(err)
	}
	now := s.clock.Now()
	resp := make([]domain.InvitationResponse, 0, len(rows))
	for _, row := range rows {
		if row.Status == domain.InvitationPending && !now.Before(row.ExpiresAt) {
			row.Status = domain.InvitationExpired
		}
		resp = append(resp, toInvitationResponse(row))
	}
	return resp, nil
}

func (s *Service) AcceptInvitation(ctx context.Context, req domain.AcceptInvitationRequest) (*domain.UserResponse, error) {
	token := strings.TrimSpace(req.Token)
	userID := strings.TrimSpace(req.UserID)
	if token == "" {
		return nil, domain.ErrInvitationNotFound
	}
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}

	inv, err := s.repo.GetInvitationByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil, db.Classify(err)
	}
	if inv == nil {
		return nil, domain.ErrInvitationNotFound
	}
	if inv.Status != domain.InvitationPending {
		return nil, domain.ErrInvitationClosed
	}
	now := s.clock.Now()
	if !now.Before(inv.ExpiresAt) {
		if _, err := s.repo.UpdateInvitationStatus(ctx, inv.AccountID, inv.ID, domain.InvitationPending, domain.InvitationExpired, now); err != nil {
			return nil, db.Classify(err)
		}
		return nil, domain.ErrInvitationExpired
	}
	if email := strings.ToLower(strings.TrimSpace(req.UserEmail)); email != "" && email != inv.InvitedEmail {
		return nil, domain.ErrInvitationEmail
	}

	assignment := domain.UserAccountAssignment{
		ID:         s.genID.Generate(),
		UserID:     userID,
		AccountID:  inv.AccountID,
		UserEmail:  inv.InvitedEmail,
		Role:       inv.Role,
		AssignedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		moved, err := repo.UpdateInvitationStatus(ctx, inv.AccountID, inv.ID, domain.InvitationPending, domain.InvitationAccepted, now)
		if err != nil {
			return err
		}
		if !moved {
			return domain.ErrInvitationClosed
		}
		return repo.UpsertAccountAssignment(ctx, assignment)
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	resp := toUserResponse(assignment)
	return &resp, nil
}

func (s *Service) CancelInvitation(ctx context.Context, scope accountctx.Scope, invitationID string) error {
	id, err := snowflake.ParseString(strings.TrimSpace(invitationID))
	if err != nil || id == 0 {
		return domain.ErrInvitationNotFound
	}
	inv, err := s.repo.GetInvitation(ctx, scope.AccountID, id)
	if err != nil {
		return db.Classify(err)
	}
	if inv == nil {
		return domain.ErrInvitationNotFound
	}
	if inv.Status == domain.InvitationCancelled {
		return nil
	}
	moved, err := s.repo.UpdateInvitationStatus(ctx, scope.AccountID, id, domain.InvitationPending, domain.InvitationCancelled, s.clock.Now())
	if err != nil {
		return db.Classify(err)
	}
	if !moved {
		return domain.ErrInvitationClosed
	}
	return nil
}

func parseSettings(raw map[string]any) (domain.AccountSettings, error) {
	settings := domain.AccountSettings{Raw: nonNilMap(raw)}
	if v, ok := raw[domain.SettingMaxGenerationsPerDay]; ok {
		n, ok := asInt(v)
		if !ok || n < 0 {
			return domain.AccountSettings{}, apperr.Validation("invalid_setting", domain.SettingMaxGenerationsPerDay+" must be a non-negative integer")
		}
		settings.MaxGenerationsPerDay = n
	}
	if v, ok := raw[domain.SettingDisableRegenerateOnPoorQuality]; ok {
		b, ok := asBool(v)
		if !ok {
			return domain.AccountSettings{}, apperr.Validation("invalid_setting", domain.SettingDisableRegenerateOnPoorQuality+" must be a boolean")
		}
		settings.DisableRegenerateOnPoorQuality = b
	}
	return settings, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		return parsed, err == nil
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}

func hashToken(token string) string {
	sum := sha3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func nonNilMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toAccountResponse(a domain.Account) *domain.AccountResponse {
	return &domain.AccountResponse{
		ID:             a.ID.String(),
		OrganizationID: a.OrganizationID.String(),
		Name:           a.Name,
		Slug:           a.Slug,
		IsActive:       a.IsActive,
		Settings:       nonNilMap(a.Settings),
	}
}

func toUserResponse(a domain.UserAccountAssignment) domain.UserResponse {
	return domain.UserResponse{
		UserID:     a.UserID,
		UserEmail:  a.UserEmail,
		AccountID:  a.AccountID.String(),
		Role:       a.Role,
		AssignedAt: a.AssignedAt,
		LastAccess: a.LastAccess,
	}
}

func toInvitationResponse(inv domain.Invitation) domain.InvitationResponse {
	return domain.InvitationResponse{
		ID:           inv.ID.String(),
		AccountID:    inv.AccountID.String(),
		InvitedEmail: inv.InvitedEmail,
		Role:         inv.Role,
		InvitedBy:    inv.InvitedBy,
		Status:       inv.Status,
		ExpiresAt:    inv.ExpiresAt,
	}
}
