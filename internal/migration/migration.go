package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	contentdomain "github.com/smallbiznis/newsdesk/internal/content/domain"
	jobdomain "github.com/smallbiznis/newsdesk/internal/job/domain"
	"github.com/smallbiznis/newsdesk/internal/llm"
	promptdomain "github.com/smallbiznis/newsdesk/internal/prompt/domain"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	"gorm.io/gorm"
)

// Models lists every table the service owns, parents first.
func Models() []any {
	return []any{
		&tenancydomain.Organization{},
		&tenancydomain.Account{},
		&tenancydomain.UserAccountAssignment{},
		&tenancydomain.UserOrganizationAssignment{},
		&tenancydomain.GlobalRoleGrant{},
		&tenancydomain.Invitation{},
		&promptdomain.PromptTemplate{},
		&promptdomain.PromptTemplateVersion{},
		&sourcedomain.Source{},
		&sourcedomain.ScrapedArticle{},
		&jobdomain.Job{},
		&contentdomain.GeneratedArticle{},
		&contentdomain.GeneratedContent{},
		&contentdomain.SocialPost{},
		&contentdomain.VideoScript{},
		&contentdomain.PrayerPoint{},
		&contentdomain.BlogImage{},
		&contentdomain.ContentSnippet{},
		&contentdomain.MigrationRecord{},
		&llm.AiResponseLog{},
	}
}

// Run brings the schema up to date. Postgres uses the versioned SQL files,
// which also install the account isolation policies. Other dialects fall back
// to gorm's AutoMigrate so local sqlite and mysql setups work without psql.
func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Rollback reverts the given number of postgres migrations.
func Rollback(db *sql.DB, steps int) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	if steps <= 0 {
		return errors.New("rollback steps must be positive")
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := migrator.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}
