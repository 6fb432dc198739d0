package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/newsdesk/internal/migration"
	"github.com/spf13/cobra"
)

var schemaSteps int

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Apply or revert schema migrations",
}

var schemaUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Bring the schema up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, d deps) error {
			if err := migration.Run(d.DB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", d.DB.Dialector.Name())
			return nil
		})
	},
}

var schemaDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the last N postgres migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if schemaSteps <= 0 {
			return fmt.Errorf("--steps must be positive")
		}
		return run(cmd, func(ctx context.Context, d deps) error {
			sqlDB, err := d.DB.DB()
			if err != nil {
				return err
			}
			if err := migration.Rollback(sqlDB, schemaSteps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %d migration(s)\n", schemaSteps)
			return nil
		})
	},
}

func init() {
	schemaDownCmd.Flags().IntVar(&schemaSteps, "steps", 1, "Number of migrations to revert")
	schemaCmd.AddCommand(schemaUpCmd)
	schemaCmd.AddCommand(schemaDownCmd)
}
