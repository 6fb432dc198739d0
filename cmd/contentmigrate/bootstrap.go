package main

import (
	"context"
	"fmt"

	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	"github.com/spf13/cobra"
)

var (
	bootstrapOrg        string
	bootstrapAccount    string
	bootstrapOwner      string
	bootstrapOwnerEmail string
	bootstrapGlobalUser string
	bootstrapGlobalRole string
)

// bootstrapCmd seeds the first tenant of a fresh install, since every
// HTTP route needs an existing account and owner.
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create an organization, an account and its owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bootstrapGlobalUser != "" && bootstrapGlobalRole == "" {
			return fmt.Errorf("--global-role is required with --global-user")
		}
		return run(cmd, func(ctx context.Context, d deps) error {
			org, err := d.Tenancy.CreateOrganization(ctx, tenancydomain.CreateOrganizationRequest{Name: bootstrapOrg})
			if err != nil {
				return err
			}
			account, err := d.Tenancy.CreateAccount(ctx, tenancydomain.CreateAccountRequest{
				OrganizationID: org.ID,
				Name:           bootstrapAccount,
				OwnerUserID:    bootstrapOwner,
				OwnerEmail:     bootstrapOwnerEmail,
			})
			if err != nil {
				return err
			}
			if bootstrapGlobalUser != "" {
				if err := d.Tenancy.GrantGlobalRole(ctx, bootstrapGlobalUser, bootstrapGlobalRole); err != nil {
					return err
				}
			}
			return printJSON(cmd, map[string]any{
				"organization": org,
				"account":      account,
			})
		})
	},
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapOrg, "org", "", "Organization name")
	bootstrapCmd.Flags().StringVar(&bootstrapAccount, "account", "", "Account name")
	bootstrapCmd.Flags().StringVar(&bootstrapOwner, "owner", "", "Owner user id")
	bootstrapCmd.Flags().StringVar(&bootstrapOwnerEmail, "owner-email", "", "Owner email")
	bootstrapCmd.Flags().StringVar(&bootstrapGlobalUser, "global-user", "", "Also grant a platform role to this user")
	bootstrapCmd.Flags().StringVar(&bootstrapGlobalRole, "global-role", "", "Platform role: super_admin, support or billing_admin")
	_ = bootstrapCmd.MarkFlagRequired("org")
	_ = bootstrapCmd.MarkFlagRequired("account")
	_ = bootstrapCmd.MarkFlagRequired("owner")
}
