package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/netsentinel/pcapconsole/client"
)

var (
	logsLevel     string
	logsComponent string
	logsLimit     int

	userRole string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative operations (admin role required)",
}

var adminCacheClearCmd = &cobra.Command{
	Use:   "cache-clear",
	Short: "Evict the backend's response caches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			res, err := c.ClearCache(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Evicted %d cache entries\n", res.Evicted)
				return err
			})
		})
	},
}

var adminLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent backend log entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			entries, err := c.Logs(cmd.Context(), client.LogQuery{
				Level:     logsLevel,
				Component: logsComponent,
				Limit:     logsLimit,
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), entries, func(w io.Writer) error {
				for _, e := range entries {
					if _, err := fmt.Fprintf(w, "%s %-5s [%s] %s\n",
						formatTime(e.Time), strings.ToUpper(e.Level), e.Component, e.Message); err != nil {
						return err
					}
				}
				return nil
			})
		})
	},
}

var adminUsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage console accounts",
}

var adminUsersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List console accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			users, err := c.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), users, func(w io.Writer) error {
				rows := make([][]string, 0, len(users))
				for _, u := range users {
					rows = append(rows, []string{u.ID, u.Username, u.Role, formatTime(u.CreatedAt)})
				}
				return printTable(w, []string{"ID", "USERNAME", "ROLE", "CREATED"}, rows)
			})
		})
	},
}

var adminUsersAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a console account; the password is read like login's",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd, newStdinReader(cmd))
		if err != nil {
			return err
		}
		return withClient(cmd, func(c *client.Client) error {
			u, err := c.CreateUser(cmd.Context(), client.CreateUserRequest{
				Username: args[0],
				Password: password,
				Role:     userRole,
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), u, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Created %s (%s) id=%s\n", u.Username, u.Role, u.ID)
				return err
			})
		})
	},
}

var adminUsersRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a console account and revoke its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			if err := c.DeleteUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminCacheClearCmd, adminLogsCmd, adminUsersCmd)
	adminUsersCmd.AddCommand(adminUsersListCmd, adminUsersAddCmd, adminUsersRmCmd)

	adminLogsCmd.Flags().StringVar(&logsLevel, "level", "", "Minimum level: debug, info, warn, error")
	adminLogsCmd.Flags().StringVar(&logsComponent, "component", "", "Only entries from this component, e.g. http or audit")
	adminLogsCmd.Flags().IntVar(&logsLimit, "limit", 0, "Maximum entries (server default when 0)")

	adminUsersAddCmd.Flags().StringVar(&userRole, "role", "user", "Role: user or admin")
	adminUsersAddCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "Read the password from stdin")
}
