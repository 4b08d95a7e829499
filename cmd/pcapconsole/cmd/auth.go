package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/netsentinel/pcapconsole/session"
)

var (
	loginUser          string
	loginPasswordStdin bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		in := newStdinReader(cmd)
		username := loginUser
		if username == "" {
			if username, err = prompt(cmd, in, "Username: "); err != nil {
				return err
			}
		}
		password, err := readPassword(cmd, in)
		if err != nil {
			return err
		}

		creds, err := a.client.Login(cmd.Context(), username, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		return render(cmd.OutOrStdout(), whoami(creds), func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "Logged in to %s as %s (%s)\n", a.client.BaseURL(), creds.Username, creds.Role)
			return err
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.client.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

type whoamiView struct {
	Username      string       `json:"username"`
	Role          session.Role `json:"role"`
	AccessExpires *time.Time   `json:"access_expires,omitempty"`
}

func whoami(c session.Credentials) whoamiView {
	v := whoamiView{Username: c.Username, Role: c.Role}
	if exp, err := session.AccessTokenExpiry(c.AccessToken); err == nil {
		v.AccessExpires = &exp
	}
	return v
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		creds, err := a.client.Whoami()
		if errors.Is(err, session.ErrNoCredentials) {
			return errors.New("not logged in, run `pcapconsole login`")
		}
		if err != nil {
			return err
		}
		v := whoami(creds)
		return render(cmd.OutOrStdout(), v, func(w io.Writer) error {
			expires := "unknown"
			if v.AccessExpires != nil {
				expires = formatTime(*v.AccessExpires)
				if time.Now().After(*v.AccessExpires) {
					expires += " (expired, refreshed on next request)"
				}
			}
			return printFields(w,
				[2]string{"Server", a.client.BaseURL()},
				[2]string{"User", v.Username},
				[2]string{"Role", string(v.Role)},
				[2]string{"Access token expires", expires},
			)
		})
	},
}

func newStdinReader(cmd *cobra.Command) *bufio.Reader {
	return bufio.NewReader(cmd.InOrStdin())
}

func prompt(cmd *cobra.Command, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads from the terminal without echo, or one line from
// stdin with --password-stdin.
func readPassword(cmd *cobra.Command, in *bufio.Reader) (string, error) {
	if !loginPasswordStdin {
		if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return "", fmt.Errorf("reading password: %w", err)
			}
			return string(b), nil
		}
	}
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "Username (prompted if empty)")
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "Read the password from stdin")
}
