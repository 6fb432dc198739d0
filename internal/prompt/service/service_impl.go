package service

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/llm"
	"github.com/smallbiznis/newsdesk/internal/prompt/domain"
	"github.com/smallbiznis/newsdesk/internal/prompt/parse"
	"github.com/smallbiznis/newsdesk/internal/prompt/render"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"github.com/smallbiznis/newsdesk/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	GenID     *snowflake.Node
	Clock     clock.Clock
	Chains    *ChainCache
	DryRunner domain.DryRunner `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	genID     *snowflake.Node
	clock     clock.Clock
	chains    *ChainCache
	dryRunner domain.DryRunner
}

func NewService(p Params) domain.Service {
	chains := p.Chains
	if chains == nil {
		chains = NewChainCache(nil)
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("prompt.service"),
		repo:      p.Repo,
		genID:     p.GenID,
		clock:     p.Clock,
		chains:    chains,
		dryRunner: p.DryRunner,
	}
}

// NewDryRunner exposes the recorder's unlogged call path to the service.
func NewDryRunner(rec *llm.Recorder) domain.DryRunner {
	return rec
}

func (s *Service) ListTemplates(ctx context.Context, scope accountctx.Scope, includeInactive bool) ([]domain.TemplateResponse, error) {
	templates, err := s.repo.ListTemplates(ctx, scope.AccountID, includeInactive)
	if err != nil {
		return nil, db.Classify(err)
	}
	out := make([]domain.TemplateResponse, 0, len(templates))
	for _, tmpl := range templates {
		resp := toTemplateResponse(tmpl)
		if tmpl.CurrentVersionID != nil {
			version, err := s.repo.GetVersion(ctx, scope.AccountID, tmpl.ID, *tmpl.CurrentVersionID)
			if err != nil {
				return nil, db.Classify(err)
			}
			if version != nil {
				v := toVersionResponse(*version, true)
				resp.CurrentVersion = &v
			}
		}
		out = append(out, resp)
	}
	return out, nil
}

func (s *Service) GetTemplate(ctx context.Context, scope accountctx.Scope, id string) (*domain.TemplateResponse, error) {
	tmpl, err := s.loadTemplate(ctx, scope.AccountID, id)
	if err != nil {
		return nil, err
	}
	versions, err := s.repo.ListVersions(ctx, scope.AccountID, tmpl.ID)
	if err != nil {
		return nil, db.Classify(err)
	}
	resp := toTemplateResponse(*tmpl)
	resp.Versions = make([]domain.VersionResponse, 0, len(versions))
	for _, version := range versions {
		current := tmpl.CurrentVersionID != nil && *tmpl.CurrentVersionID == version.ID
		v := toVersionResponse(version, current)
		if current {
			resp.CurrentVersion = &v
		}
		resp.Versions = append(resp.Versions, v)
	}
	return &resp, nil
}

func (s *Service) CreateTemplate(ctx context.Context, scope accountctx.Scope, req domain.CreateTemplateRequest) (*domain.TemplateResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		return nil, domain.ErrInvalidCategory
	}
	mediaType := strings.ToLower(strings.TrimSpace(req.MediaType))
	if !domain.IsMediaType(mediaType) {
		return nil, domain.ErrInvalidMediaType
	}
	method := strings.ToLower(strings.TrimSpace(req.ParsingMethod))
	if method == "" {
		method = domain.ParseGeneric
	}
	if !domain.IsParsingMethod(method) {
		return nil, domain.ErrInvalidParsingMethod
	}
	onParseError, err := normalizeOnParseError(req.OnParseError)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PromptContent) == "" {
		return nil, domain.ErrInvalidPrompt
	}

	now := s.clock.Now()
	tmpl := domain.PromptTemplate{
		ID:            s.genID.Generate(),
		AccountID:     scope.AccountID,
		Name:          name,
		Category:      category,
		MediaType:     mediaType,
		ParsingMethod: method,
		OnParseError:  onParseError,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	version := domain.PromptTemplateVersion{
		ID:            s.genID.Generate(),
		AccountID:     scope.AccountID,
		TemplateID:    tmpl.ID,
		VersionNumber: 1,
		PromptContent: req.PromptContent,
		SystemMessage: trimmedPtr(req.SystemMessage),
		Parameters:    datatypes.JSONMap(nonNilMap(req.Parameters)),
		Notes:         trimmedPtr(req.Notes),
		CreatedBy:     scope.UserID,
		CreatedAt:     now,
	}
	tmpl.CurrentVersionID = &version.ID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithAccount(tx, scope.AccountID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		max, err := repo.MaxExecutionOrder(ctx, scope.AccountID)
		if err != nil {
			return err
		}
		tmpl.ExecutionOrder = max + 1
		if err := repo.CreateTemplate(ctx, &tmpl); err != nil {
			return err
		}
		if err := repo.CreateVersion(ctx, &version); err != nil {
			return err
		}
		return renumberActive(ctx, repo, scope.AccountID)
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	s.InvalidateCache(ctx, scope.AccountID)
	return s.GetTemplate(ctx, scope, tmpl.ID.String())
}

func (s *Service) UpdateTemplate(ctx context.Context, scope accountctx.Scope, id string, req domain.UpdateTemplateRequest) (*domain.TemplateResponse, error) {
	tmpl, err := s.loadTemplate(ctx, scope.AccountID, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		fields["name"] = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return nil, domain.ErrInvalidCategory
		}
		fields["category"] = category
	}
	if req.MediaType != nil {
		mediaType := strings.ToLower(strings.TrimSpace(*req.MediaType))
		if !domain.IsMediaType(mediaType) {
			return nil, domain.ErrInvalidMediaType
		}
		fields["media_type"] = mediaType
	}
	if req.ParsingMethod != nil {
		method := strings.ToLower(strings.TrimSpace(*req.ParsingMethod))
		if !domain.IsParsingMethod(method) {
			return nil, domain.ErrInvalidParsingMethod
		}
		fields["parsing_method"] = method
	}
	if req.OnParseError != nil {
		value, err := normalizeOnParseError(*req.OnParseError)
		if err != nil {
			return nil, err
		}
		fields["on_parse_error"] = value
	}
	activation := req.IsActive != nil && *req.IsActive != tmpl.IsActive
	if activation {
		fields["is_active"] = *req.IsActive
	}
	if len(fields) == 0 {
		return s.GetTemplate(ctx, scope, id)
	}
	fields["updated_at"] = s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithAccount(tx, scope.AccountID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		if activation && *req.IsActive {
			// Reactivated templates join the end of the chain.
			max, err := repo.MaxExecutionOrder(ctx, scope.AccountID)
			if err != nil {
				return err
			}
			fields["execution_order"] = max + 1
		}
		if _, err := repo.UpdateTemplate(ctx, scope.AccountID, tmpl.ID, fields); err != nil {
			return err
		}
		if activation {
			return renumberActive(ctx, repo, scope.AccountID)
		}
		return nil
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	s.InvalidateCache(ctx, scope.AccountID)
	return s.GetTemplate(ctx, scope, id)
}

func (s *Service) Reorder(ctx context.Context, scope accountctx.Scope, order []string) ([]domain.TemplateResponse, error) {
	active, err := s.repo.ListTemplates(ctx, scope.AccountID, false)
	if err != nil {
		return nil, db.Classify(err)
	}
	if len(order) != len(active) {
		return nil, domain.ErrInvalidOrder
	}
	if len(order) == 0 {
		return []domain.TemplateResponse{}, nil
	}
	known := make(map[snowflake.ID]struct{}, len(active))
	for _, tmpl := range active {
		known[tmpl.ID] = struct{}{}
	}
	ids := make([]snowflake.ID, 0, len(order))
	seen := make(map[snowflake.ID]struct{}, len(order))
	for _, raw := range order {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil {
			return nil, domain.ErrInvalidOrder
		}
		if _, ok := known[id]; !ok {
			return nil, domain.ErrInvalidOrder
		}
		if _, dup := seen[id]; dup {
			return nil, domain.ErrInvalidOrder
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithAccount(tx, scope.AccountID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		for i, id := range ids {
			if _, err := repo.UpdateTemplate(ctx, scope.AccountID, id, map[string]any{
				"execution_order": i + 1,
				"updated_at":      now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	s.InvalidateCache(ctx, scope.AccountID)
	return s.ListTemplates(ctx, scope, false)
}

func (s *Service) ListVersions(ctx context.Context, scope accountctx.Scope, templateID string) ([]domain.VersionResponse, error) {
	tmpl, err := s.GetTemplate(ctx, scope, templateID)
	if err != nil {
		return nil, err
	}
	return tmpl.Versions, nil
}

func (s *Service) CreateVersion(ctx context.Context, scope accountctx.Scope, templateID string, req domain.CreateVersionRequest) (*domain.VersionResponse, error) {
	tmpl, err := s.loadTemplate(ctx, scope.AccountID, templateID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PromptContent) == "" {
		return nil, domain.ErrInvalidPrompt
	}

	version := domain.PromptTemplateVersion{
		ID:            s.genID.Generate(),
		AccountID:     scope.AccountID,
		TemplateID:    tmpl.ID,
		PromptContent: req.PromptContent,
		SystemMessage: trimmedPtr(req.SystemMessage),
		Parameters:    datatypes.JSONMap(nonNilMap(req.Parameters)),
		Notes:         trimmedPtr(req.Notes),
		CreatedBy:     scope.UserID,
		CreatedAt:     s.clock.Now(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithAccount(tx, scope.AccountID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		if _, err := repo.LockTemplate(ctx, scope.AccountID, tmpl.ID); err != nil {
			return err
		}
		next, err := repo.NextVersionNumber(ctx, scope.AccountID, tmpl.ID)
		if err != nil {
			return err
		}
		version.VersionNumber = next
		if err := repo.CreateVersion(ctx, &version); err != nil {
			return err
		}
		if req.SetCurrent {
			if _, err := repo.SetCurrentVersion(ctx, scope.AccountID, tmpl.ID, version.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	if req.SetCurrent {
		s.InvalidateCache(ctx, scope.AccountID)
	}
	resp := toVersionResponse(version, req.SetCurrent)
	return &resp, nil
}

func (s *Service) SetCurrentVersion(ctx context.Context, scope accountctx.Scope, templateID, versionID string) (*domain.TemplateResponse, error) {
	tmpl, err := s.loadTemplate(ctx, scope.AccountID, templateID)
	if err != nil {
		return nil, err
	}
	vid, err := parseID(versionID, domain.ErrVersionNotFound)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithAccount(tx, scope.AccountID); err != nil {
			return err
		}
		ok, err := s.repo.WithTx(tx).SetCurrentVersion(ctx, scope.AccountID, tmpl.ID, vid)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrVersionNotFound
		}
		return nil
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	s.InvalidateCache(ctx, scope.AccountID)
	return s.GetTemplate(ctx, scope, templateID)
}

// TestVersion renders a version against test variables and, when a gateway
// is configured, makes an unlogged call and parses the answer.
func (s *Service) TestVersion(ctx context.Context, scope accountctx.Scope, templateID, versionID string, req domain.TestVersionRequest) (*domain.TestResult, error) {
	tmpl, err := s.loadTemplate(ctx, scope.AccountID, templateID)
	if err != nil {
		return nil, err
	}
	vid, err := parseID(versionID, domain.ErrVersionNotFound)
	if err != nil {
		return nil, err
	}
	version, err := s.repo.GetVersion(ctx, scope.AccountID, tmpl.ID, vid)
	if err != nil {
		return nil, db.Classify(err)
	}
	if version == nil {
		return nil, domain.ErrVersionNotFound
	}

	prompt, err := render.Render(version.PromptContent, req.TestVariables)
	if err != nil {
		return nil, err
	}
	result := &domain.TestResult{
		RenderedPrompt: prompt,
		Placeholders:   render.Placeholders(version.PromptContent),
	}
	if version.SystemMessage != nil {
		system, err := render.Render(*version.SystemMessage, req.TestVariables)
		if err != nil {
			return nil, err
		}
		result.SystemMessage = system
	}
	if s.dryRunner == nil {
		return result, nil
	}

	resp, err := s.dryRunner.DryRun(ctx, llm.Request{
		Prompt:          prompt,
		SystemMessage:   result.SystemMessage,
		MaxOutputTokens: version.MaxOutputTokens(0),
	})
	result.Response = &resp
	if err != nil {
		result.LLMError = toTestError(err)
		return result, nil
	}
	entries, err := parse.Parse(parse.Input{
		Method:          tmpl.ParsingMethod,
		Text:            resp.Text,
		StopReason:      resp.StopReason,
		Sections:        version.Sections(),
		DefaultPlatform: stringParam(version.Parameters, "platform"),
	})
	if err != nil {
		result.ParseError = toTestError(err)
		return result, nil
	}
	result.Parsed = entries
	return result, nil
}

func (s *Service) ActiveChain(ctx context.Context, accountID snowflake.ID) ([]domain.ChainStep, error) {
	if steps, ok := s.chains.Get(ctx, accountID); ok {
		return steps, nil
	}
	templates, err := s.repo.ListTemplates(ctx, accountID, false)
	if err != nil {
		return nil, db.Classify(err)
	}
	steps, err := s.bind(ctx, accountID, templates)
	if err != nil {
		return nil, err
	}
	s.chains.Set(ctx, accountID, steps)
	return steps, nil
}

func (s *Service) ResolveChain(ctx context.Context, accountID snowflake.ID, templateIDs []string) ([]domain.ChainStep, error) {
	templates := make([]domain.PromptTemplate, 0, len(templateIDs))
	seen := map[snowflake.ID]struct{}{}
	for _, raw := range templateIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil {
			return nil, domain.ErrTemplateNotInAccount
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		tmpl, err := s.repo.GetTemplate(ctx, accountID, id)
		if err != nil {
			return nil, db.Classify(err)
		}
		if tmpl == nil {
			return nil, domain.ErrTemplateNotInAccount
		}
		if !tmpl.IsActive {
			return nil, domain.ErrTemplateInactive
		}
		templates = append(templates, *tmpl)
	}
	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].ExecutionOrder < templates[j].ExecutionOrder
	})
	return s.bind(ctx, accountID, templates)
}

func (s *Service) PinnedChain(ctx context.Context, accountID snowflake.ID, pins []domain.Pin) ([]domain.ChainStep, error) {
	steps := make([]domain.ChainStep, 0, len(pins))
	for _, pin := range pins {
		tid, err := snowflake.ParseString(pin.TemplateID)
		if err != nil {
			return nil, domain.ErrPinnedVersionMissing
		}
		vid, err := snowflake.ParseString(pin.VersionID)
		if err != nil {
			return nil, domain.ErrPinnedVersionMissing
		}
		tmpl, err := s.repo.GetTemplate(ctx, accountID, tid)
		if err != nil {
			return nil, db.Classify(err)
		}
		if tmpl == nil {
			return nil, domain.ErrTemplateNotInAccount
		}
		version, err := s.repo.GetVersion(ctx, accountID, tid, vid)
		if err != nil {
			return nil, db.Classify(err)
		}
		if version == nil {
			return nil, domain.ErrPinnedVersionMissing
		}
		steps = append(steps, domain.ChainStep{Template: *tmpl, Version: *version})
	}
	return steps, nil
}

func (s *Service) InvalidateCache(ctx context.Context, accountID snowflake.ID) {
	s.chains.Invalidate(ctx, accountID)
}

func (s *Service) bind(ctx context.Context, accountID snowflake.ID, templates []domain.PromptTemplate) ([]domain.ChainStep, error) {
	steps := make([]domain.ChainStep, 0, len(templates))
	for _, tmpl := range templates {
		if tmpl.CurrentVersionID == nil {
			return nil, domain.ErrNoCurrentVersion
		}
		version, err := s.repo.GetVersion(ctx, accountID, tmpl.ID, *tmpl.CurrentVersionID)
		if err != nil {
			return nil, db.Classify(err)
		}
		if version == nil {
			return nil, domain.ErrNoCurrentVersion
		}
		steps = append(steps, domain.ChainStep{Template: tmpl, Version: *version})
	}
	return steps, nil
}

func (s *Service) loadTemplate(ctx context.Context, accountID snowflake.ID, id string) (*domain.PromptTemplate, error) {
	tid, err := parseID(id, domain.ErrTemplateNotFound)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.repo.GetTemplate(ctx, accountID, tid)
	if err != nil {
		return nil, db.Classify(err)
	}
	if tmpl == nil {
		return nil, domain.ErrTemplateNotFound
	}
	return tmpl, nil
}

// renumberActive rewrites executionOrder of the active set to 1..N keeping
// the current relative order.
func renumberActive(ctx context.Context, repo domain.Repository, accountID snowflake.ID) error {
	active, err := repo.ListTemplates(ctx, accountID, false)
	if err != nil {
		return err
	}
	for i, tmpl := range active {
		if tmpl.ExecutionOrder == i+1 {
			continue
		}
		if err := repo.SetExecutionOrder(ctx, accountID, tmpl.ID, i+1); err != nil {
			return err
		}
	}
	return nil
}

func normalizeOnParseError(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", domain.OnParseErrorAbort:
		return domain.OnParseErrorAbort, nil
	case domain.OnParseErrorSkip:
		return domain.OnParseErrorSkip, nil
	default:
		return "", domain.ErrInvalidOnParseError
	}
}

func toTemplateResponse(t domain.PromptTemplate) domain.TemplateResponse {
	resp := domain.TemplateResponse{
		ID:             t.ID.String(),
		Name:           t.Name,
		Category:       t.Category,
		MediaType:      t.MediaType,
		ParsingMethod:  t.ParsingMethod,
		OnParseError:   t.OnParseError,
		ExecutionOrder: t.ExecutionOrder,
		IsActive:       t.IsActive,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if t.CurrentVersionID != nil {
		resp.CurrentVersionID = t.CurrentVersionID.String()
	}
	return resp
}

func toVersionResponse(v domain.PromptTemplateVersion, current bool) domain.VersionResponse {
	return domain.VersionResponse{
		ID:            v.ID.String(),
		TemplateID:    v.TemplateID.String(),
		VersionNumber: v.VersionNumber,
		PromptContent: v.PromptContent,
		SystemMessage: v.SystemMessage,
		Parameters:    nonNilMap(v.Parameters),
		Notes:         v.Notes,
		CreatedBy:     v.CreatedBy,
		CreatedAt:     v.CreatedAt,
		IsCurrent:     current,
	}
}

func toTestError(err error) *domain.TestError {
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown {
		kind = apperr.KindInternal
	}
	msg := "request failed"
	if kind == apperr.KindParseFailure || kind == apperr.KindTransientUpstream {
		msg = err.Error()
	}
	return &domain.TestError{Kind: string(kind), Code: apperr.CodeOf(err), Message: msg}
}

func parseID(raw string, notFound error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, notFound
	}
	return id, nil
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
