package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	contentrepository "github.com/smallbiznis/newsdesk/internal/content/repository"
	"github.com/smallbiznis/newsdesk/internal/contentmigration"
	"github.com/smallbiznis/newsdesk/internal/observability"
	"github.com/smallbiznis/newsdesk/internal/tenancy"
	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var version = "dev"

var (
	timeout time.Duration
	pretty  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "contentmigrate",
	Short:         "Offline schema and content migration tooling",
	Long:          "contentmigrate applies schema migrations, backfills the unified generated_content table from legacy rows and bootstraps tenants.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Abort after this long")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Indent JSON output")

	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(bootstrapCmd)
}

// deps is what every subcommand may need from the container.
type deps struct {
	fx.In

	DB        *gorm.DB
	Config    config.Config
	Migration *contentmigration.Service
	Tenancy   tenancydomain.Service
}

// run builds a short-lived container, hands the populated deps to fn and
// tears the container down again.
func run(cmd *cobra.Command, fn func(ctx context.Context, d deps) error) error {
	var d deps
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.ForProcess(observability.ProcessMigrate),
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		tenancy.Module,
		fx.Provide(contentrepository.NewRepository),
		contentmigration.Module,
		fx.Populate(&d),
	)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("starting: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx, d)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func parseID(value, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(value)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, value)
	}
	return id, nil
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(9)
	if err != nil {
		panic(err)
	}
	return node
}
