package main

import (
	"context"

	contentdomain "github.com/smallbiznis/newsdesk/internal/content/domain"
	"github.com/smallbiznis/newsdesk/internal/contentmigration"
	"github.com/spf13/cobra"
)

var (
	backfillAccount   string
	backfillType      string
	backfillBatchSize int
	backfillDryRun    bool

	rollbackAccount string
	rollbackType    string
	rollbackLegacy  string
	rollbackDryRun  bool

	progressAccount string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Copy legacy content rows into generated_content",
	Long:  "Without --account every account owning legacy rows is migrated. Reruns skip rows that already have a migration record.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, d deps) error {
			opts := d.Migration.DefaultOptions()
			if cmd.Flags().Changed("dry-run") {
				opts.DryRun = backfillDryRun
			}
			if backfillBatchSize > 0 {
				opts.BatchSize = backfillBatchSize
			}

			if backfillAccount == "" {
				reports, err := d.Migration.BackfillAll(ctx, opts)
				if perr := printJSON(cmd, reports); perr != nil {
					return perr
				}
				return err
			}

			accountID, err := parseID(backfillAccount, "account")
			if err != nil {
				return err
			}
			types := []string{backfillType}
			if backfillType == "" {
				types = contentdomain.LegacyTypes
			}
			reports := make([]contentmigration.Report, 0, len(types))
			for _, contentType := range types {
				report, err := d.Migration.Backfill(ctx, accountID, contentType, opts)
				if report != nil {
					reports = append(reports, *report)
				}
				if err != nil {
					_ = printJSON(cmd, reports)
					return err
				}
			}
			return printJSON(cmd, reports)
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Delete the unified row mirroring one legacy row",
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := parseID(rollbackAccount, "account")
		if err != nil {
			return err
		}
		legacyID, err := parseID(rollbackLegacy, "legacy id")
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, d deps) error {
			result, err := d.Migration.Rollback(ctx, accountID, rollbackType, legacyID, rollbackDryRun)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		})
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show migrated and total legacy rows per type",
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := parseID(progressAccount, "account")
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, d deps) error {
			progress, err := d.Migration.Progress(ctx, accountID)
			if err != nil {
				return err
			}
			return printJSON(cmd, progress)
		})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillAccount, "account", "", "Account id (default: all accounts)")
	backfillCmd.Flags().StringVar(&backfillType, "type", "", "Legacy content type (default: all types)")
	backfillCmd.Flags().IntVar(&backfillBatchSize, "batch-size", 0, "Rows per batch (default: MIGRATION_BATCH_SIZE)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Log what would be migrated without writing")

	rollbackCmd.Flags().StringVar(&rollbackAccount, "account", "", "Account id")
	rollbackCmd.Flags().StringVar(&rollbackType, "type", "", "Legacy content type")
	rollbackCmd.Flags().StringVar(&rollbackLegacy, "legacy-id", "", "Legacy row id")
	rollbackCmd.Flags().BoolVar(&rollbackDryRun, "dry-run", false, "Report without deleting")
	_ = rollbackCmd.MarkFlagRequired("account")
	_ = rollbackCmd.MarkFlagRequired("type")
	_ = rollbackCmd.MarkFlagRequired("legacy-id")

	progressCmd.Flags().StringVar(&progressAccount, "account", "", "Account id")
	_ = progressCmd.MarkFlagRequired("account")
}
