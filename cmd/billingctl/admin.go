package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator accounts",
	}
	cmd.AddCommand(adminCreateCmd())
	return cmd
}

func adminCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [username]",
		Short: "Create an operator account",
		Long: `Create an operator account. The password is read from
BILLINGCTL_ADMIN_PASSWORD or, when unset, from the first line of stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("BILLINGCTL_ADMIN_PASSWORD")
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password from stdin: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			isSuper, _ := cmd.Flags().GetBool("super")
			roles, _ := cmd.Flags().GetStringSlice("role")

			c, err := openContainer()
			if err != nil {
				return err
			}
			defer c.Close()

			admin, err := c.AuthService.CreateAdmin(args[0], password, isSuper)
			if err != nil {
				return err
			}
			if len(roles) > 0 {
				if err := c.AuthzService.SetAdminRoles(admin.ID, roles); err != nil {
					return fmt.Errorf("assign roles: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "operator %s created (id=%d super=%t roles=%v)\n", admin.Username, admin.ID, admin.IsSuper, roles)
			return nil
		},
	}
	cmd.Flags().Bool("super", false, "grant every permission")
	cmd.Flags().StringSlice("role", nil, "role to assign, e.g. finance or billing_operator")
	return cmd
}
