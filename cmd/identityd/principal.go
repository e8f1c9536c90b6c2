package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/tenant"
)

func newPrincipalCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principal",
		Short: "Manage principals",
	}
	cmd.AddCommand(newPrincipalCreateCmd(opts))
	return cmd
}

// principal create bootstraps the first administrator of a tenant; later
// principals are registered through the API.
func newPrincipalCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		tenantID string
		in       goIdentity.RegisterInput
		roles    []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a principal and grant it roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			tc, err := tenant.New(tenant.ID(tenantID))
			if err != nil {
				return err
			}

			rt, err := opts.open(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			engine, err := rt.buildEngine(metrics.New(metrics.Config{}), nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			p, err := engine.RegisterPrincipal(ctx, tc, in)
			if err != nil {
				return err
			}
			for _, name := range roles {
				role := permission.Role(name)
				if _, err := engine.CreateRole(ctx, tc, role); err != nil && !errors.Is(err, goIdentity.ErrRoleExists) {
					return err
				}
				if err := engine.AssignRole(ctx, tc, p.PrincipalID, role); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), p.PrincipalID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&in.Email, "email", "", "login email")
	cmd.Flags().StringVar(&in.DisplayName, "name", "", "display name (defaults to email)")
	cmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles to grant")
	cmd.PreRun = func(*cobra.Command, []string) {
		if in.DisplayName == "" {
			in.DisplayName = in.Email
		}
	}
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
