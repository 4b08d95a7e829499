package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/netsentinel/pcapconsole/session"
	"github.com/netsentinel/pcapconsole/tui"
)

var watchLogFile string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of sensors and jobs with the session timeout warning",
	Long: `Live dashboard of sensors and jobs with the session timeout warning.

With the default bbolt store, watch keeps the credential file open and locked
until it exits. Other pcapconsole commands using the same --store wait briefly
and then fail with "credential store is in use". Run them against a separate
--store, or use the postgres backend to share a session between consoles.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The alternate screen owns the terminal; logs go to a file or nowhere.
		var logOut io.Writer = io.Discard
		if watchLogFile != "" {
			f, err := os.OpenFile(watchLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			defer f.Close()
			logOut = f
		}
		l, err := newLogger(logOut, cfg.Log)
		if err != nil {
			return err
		}
		logger = l

		var dash atomic.Pointer[tui.Dashboard]
		a, err := openApp(cmd.Context(), cmd.ErrOrStderr(), session.WithLogoutFunc(func(reason error) {
			if d := dash.Load(); d != nil {
				d.SessionEnded(reason)
			}
		}))
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.client.Whoami(); errors.Is(err, session.ErrNoCredentials) {
			return errors.New("not logged in, run `pcapconsole login`")
		} else if err != nil {
			return err
		}

		d := tui.New(a.client, cfg.TUI.PollInterval, cfg.Session.Countdown)
		dash.Store(d)
		mon := session.NewMonitor(a.coord,
			session.WithLogger(logger),
			session.WithTimeouts(cfg.Session.Inactivity, cfg.Session.Countdown, cfg.Session.Tick),
			session.WithNotify(d.Notify),
		)

		reason := d.Run(cmd.Context(), mon)
		switch {
		case reason == nil:
			return nil
		case errors.Is(reason, session.ErrLoggedOut):
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		default:
			fmt.Fprintf(cmd.ErrOrStderr(), "session ended (%v), run `pcapconsole login`\n", reason)
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "Write logs to this file while the dashboard runs")
}
