package cmd

import (
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/netsentinel/pcapconsole/client"
)

var (
	prefTheme    string
	prefTimezone string
	prefPageSize int
	prefRefresh  int
	prefSites    []string
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change your console preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show your preferences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			p, err := c.GetPreferences(cmd.Context())
			if err != nil {
				return err
			}
			return printPrefs(cmd.OutOrStdout(), p)
		})
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change preferences; unset flags keep their current value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			p, err := c.GetPreferences(cmd.Context())
			if err != nil {
				return err
			}
			next := mergePrefs(cmd, *p)
			updated, err := c.UpdatePreferences(cmd.Context(), next)
			if err != nil {
				return err
			}
			return printPrefs(cmd.OutOrStdout(), updated)
		})
	},
}

// mergePrefs overlays the flags the user actually set onto p.
func mergePrefs(cmd *cobra.Command, p client.Preferences) client.Preferences {
	f := cmd.Flags()
	if f.Changed("theme") {
		p.Theme = prefTheme
	}
	if f.Changed("timezone") {
		p.Timezone = prefTimezone
	}
	if f.Changed("page-size") {
		p.PageSize = prefPageSize
	}
	if f.Changed("refresh") {
		p.RefreshSeconds = prefRefresh
	}
	if f.Changed("sites") {
		p.DefaultSites = prefSites
	}
	return p
}

func printPrefs(w io.Writer, p *client.Preferences) error {
	return render(w, p, func(w io.Writer) error {
		sites := strings.Join(p.DefaultSites, ", ")
		if sites == "" {
			sites = "all"
		}
		return printFields(w,
			[2]string{"Theme", p.Theme},
			[2]string{"Timezone", p.Timezone},
			[2]string{"Page size", strconv.Itoa(p.PageSize)},
			[2]string{"Refresh", strconv.Itoa(p.RefreshSeconds) + "s"},
			[2]string{"Default sites", sites},
		)
	})
}

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd)
	f := prefsSetCmd.Flags()
	f.StringVar(&prefTheme, "theme", "", "dark or light")
	f.StringVar(&prefTimezone, "timezone", "", "IANA time zone, e.g. Europe/Berlin")
	f.IntVar(&prefPageSize, "page-size", 0, "Rows per page")
	f.IntVar(&prefRefresh, "refresh", 0, "Dashboard refresh in seconds")
	f.StringSliceVar(&prefSites, "sites", nil, "Default sites (empty for all)")
}
