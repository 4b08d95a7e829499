package cmd

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/netsentinel/pcapconsole/devserver"
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local collection backend with seeded sensors for development",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dc := cfg.DevServe
		f := cmd.Flags()
		if f.Changed("addr") {
			dc.Addr, _ = f.GetString("addr")
		}
		if f.Changed("tls-cert") {
			dc.TLSCert, _ = f.GetString("tls-cert")
		}
		if f.Changed("tls-key") {
			dc.TLSKey, _ = f.GetString("tls-key")
		}
		if (dc.TLSCert == "") != (dc.TLSKey == "") {
			return errors.New("--tls-cert and --tls-key must be set together")
		}

		devserver.Version = Version
		var hook *devserver.AlertWebhook
		if dc.AlertWebhook != "" {
			hook = devserver.NewAlertWebhook(dc.AlertWebhook, dc.AlertWebhookAuth, logger)
			defer hook.Close()
		}
		opts := []devserver.Option{
			devserver.WithLogger(logger),
			devserver.WithAccessTTL(dc.AccessTTL),
			devserver.WithRefreshTTL(dc.RefreshTTL),
			devserver.WithAlertFunc(func(e devserver.AlertEvent) {
				logger.Warn("security alert", "type", e.Type, "count", e.Count, "message", e.Message)
				if hook != nil {
					hook.Notify(e)
				}
			}),
		}
		if dc.SigningKey != "" {
			opts = append(opts, devserver.WithSigningKey([]byte(dc.SigningKey)))
		}
		srv, err := devserver.New(opts...)
		if err != nil {
			return err
		}
		defer srv.Close()

		password := dc.AdminPassword
		generated := password == ""
		if generated {
			password = rand.Text()
		}
		if _, err := srv.AddUser(dc.AdminUser, password, devserver.RoleAdmin); err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		server := &http.Server{
			Addr:              dc.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		scheme := "http"
		if dc.TLSCert != "" {
			cert, err := tls.LoadX509KeyPair(dc.TLSCert, dc.TLSKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			scheme = "https"
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if server.TLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		out := cmd.OutOrStdout()
		printBanner(out, "Development Collection Backend")
		fmt.Fprintf(out, "Listening on %s://%s/api/v1 (docs at /api/v1/docs)\n", scheme, dc.Addr)
		if generated {
			fmt.Fprintf(out, "Admin login: %s / %s\n", dc.AdminUser, password)
		} else {
			fmt.Fprintf(out, "Admin login: %s\n", dc.AdminUser)
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(devserverCmd)
	devserverCmd.Flags().String("addr", "", "Listen address (default from config, 127.0.0.1:8080)")
	devserverCmd.Flags().String("tls-cert", "", "Path to TLS certificate file")
	devserverCmd.Flags().String("tls-key", "", "Path to TLS key file")
}
