// Package contentmigration backfills the unified generated_content table
// from legacy artifact rows.
package contentmigration

import (
	"context"
	"errors"
	"math"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"github.com/smallbiznis/newsdesk/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Version is stamped on records written by the backfill.
const Version = "v1"

var Module = fx.Module("contentmigration",
	fx.Provide(NewService),
)

var (
	ErrInvalidContentType = apperr.Validation("invalid_content_type", "content type is not migratable")
	ErrNotMigrated        = apperr.NotFound("migration_record_not_found")

	errAlreadyMigrated = errors.New("legacy row already migrated")
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   domain.Repository
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
	cfg   config.MigrationConfig
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("contentmigration"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
		cfg:   p.Config.Migration,
	}
}

type Options struct {
	DryRun    bool
	BatchSize int
}

// DefaultOptions reads the configured batch size and dry-run flag.
func (s *Service) DefaultOptions() Options {
	return Options{DryRun: s.cfg.DryRun, BatchSize: s.cfg.BatchSize}
}

type Report struct {
	AccountID   string `json:"accountId"`
	ContentType string `json:"contentType"`
	DryRun      bool   `json:"dryRun"`
	Scanned     int    `json:"scanned"`
	Migrated    int    `json:"migrated"`
	Skipped     int    `json:"skipped"`
	Batches     int    `json:"batches"`
}

// Backfill migrates every unmigrated legacy row of one type in id order.
// Rows already linked by a migration record are skipped, so reruns are
// no-ops.
func (s *Service) Backfill(ctx context.Context, accountID snowflake.ID, contentType string, opts Options) (*Report, error) {
	if !domain.IsLegacyType(contentType) {
		return nil, ErrInvalidContentType
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	report := &Report{AccountID: accountID.String(), ContentType: contentType, DryRun: opts.DryRun}
	log := s.log.With(
		zap.String("account_id", accountID.String()),
		zap.String("content_type", contentType),
		zap.Bool("dry_run", opts.DryRun),
	)

	var after snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rows, err := s.repo.ListLegacy(ctx, accountID, contentType, domain.LegacyFilter{
			AfterID:        after,
			UnmigratedOnly: true,
			Limit:          opts.BatchSize,
		})
		if err != nil {
			return report, db.Classify(err)
		}
		if len(rows) == 0 {
			break
		}
		report.Batches++
		for _, row := range rows {
			report.Scanned++
			after = row.ID
			if opts.DryRun {
				log.Info("would migrate legacy row", zap.String("legacy_id", row.ID.String()))
				report.Migrated++
				continue
			}
			err := s.migrateRow(ctx, row)
			if errors.Is(err, errAlreadyMigrated) {
				report.Skipped++
				continue
			}
			if err != nil {
				return report, db.Classify(err)
			}
			report.Migrated++
		}
		if len(rows) < opts.BatchSize {
			break
		}
	}
	log.Info("backfill finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("migrated", report.Migrated),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (s *Service) migrateRow(ctx context.Context, row domain.LegacyRow) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithAccount(tx, row.AccountID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		content := domain.GeneratedContent{
			ID:                  s.genID.Generate(),
			AccountID:           row.AccountID,
			BasedOnGenArticleID: row.BasedOnGenArticleID,
			PromptCategory:      row.PromptCategory,
			ContentType:         row.ContentType,
			ContentData:         domain.EncodeJSON([]map[string]any{row.Canonical}),
			Metadata: datatypes.JSONMap{
				"source":     domain.SourceMigration,
				"legacy_ids": []string{row.ID.String()},
			},
			Status:    row.Status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.CreateContent(ctx, &content); err != nil {
			return err
		}
		inserted, err := repo.CreateMigrationRecord(ctx, &domain.MigrationRecord{
			ID:               s.genID.Generate(),
			AccountID:        row.AccountID,
			ContentType:      row.ContentType,
			LegacyID:         row.ID,
			ModernContentID:  content.ID,
			MigrationVersion: Version,
			MigrationDate:    now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyMigrated
		}
		return nil
	})
}

// BackfillAll runs Backfill for every legacy type and every account owning
// legacy rows of that type.
func (s *Service) BackfillAll(ctx context.Context, opts Options) ([]Report, error) {
	var reports []Report
	for _, contentType := range domain.LegacyTypes {
		accounts, err := s.repo.LegacyAccounts(ctx, contentType)
		if err != nil {
			return reports, db.Classify(err)
		}
		for _, accountID := range accounts {
			report, err := s.Backfill(ctx, accountID, contentType, opts)
			if report != nil {
				reports = append(reports, *report)
			}
			if err != nil {
				return reports, err
			}
		}
	}
	return reports, nil
}

type RollbackResult struct {
	ModernContentID string `json:"modernContentId"`
	RecordsDeleted  int64  `json:"recordsDeleted"`
	DryRun          bool   `json:"dryRun"`
}

// Rollback deletes the unified row mirroring a legacy row together with
// every migration record pointing at it. The legacy row is untouched.
func (s *Service) Rollback(ctx context.Context, accountID snowflake.ID, contentType string, legacyID snowflake.ID, dryRun bool) (*RollbackResult, error) {
	if !domain.IsLegacyType(contentType) {
		return nil, ErrInvalidContentType
	}
	record, err := s.repo.FindMigrationRecord(ctx, accountID, contentType, legacyID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if record == nil {
		return nil, ErrNotMigrated
	}
	result := &RollbackResult{ModernContentID: record.ModernContentID.String(), DryRun: dryRun}
	if dryRun {
		s.log.Info("would roll back migration",
			zap.String("account_id", accountID.String()),
			zap.String("content_type", contentType),
			zap.String("legacy_id", legacyID.String()),
			zap.String("modern_content_id", result.ModernContentID),
		)
		return result, nil
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithAccount(tx, accountID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		deleted, err := repo.DeleteMigrationRecords(ctx, accountID, record.ModernContentID)
		if err != nil {
			return err
		}
		result.RecordsDeleted = deleted
		_, err = repo.DeleteContent(ctx, accountID, record.ModernContentID)
		return err
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	return result, nil
}

type TypeProgress struct {
	ContentType string  `json:"contentType"`
	LegacyTotal int64   `json:"legacyTotal"`
	Migrated    int64   `json:"migrated"`
	Percent     float64 `json:"percent"`
}

// Progress reports migrated/total legacy rows per artifact type.
func (s *Service) Progress(ctx context.Context, accountID snowflake.ID) ([]TypeProgress, error) {
	out := make([]TypeProgress, 0, len(domain.LegacyTypes))
	for _, contentType := range domain.LegacyTypes {
		total, err := s.repo.CountLegacy(ctx, accountID, contentType)
		if err != nil {
			return nil, db.Classify(err)
		}
		migrated, err := s.repo.CountMigrated(ctx, accountID, contentType)
		if err != nil {
			return nil, db.Classify(err)
		}
		progress := TypeProgress{ContentType: contentType, LegacyTotal: total, Migrated: migrated, Percent: 100}
		if total > 0 {
			progress.Percent = math.Round(float64(migrated)/float64(total)*10000) / 100
		}
		out = append(out, progress)
	}
	return out, nil
}
