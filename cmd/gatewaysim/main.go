package main

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/afkbot/internal/auth"
	"github.com/vovakirdan/afkbot/internal/gatewaysim"
	applog "github.com/vovakirdan/afkbot/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := gatewaysim.DefaultOptions()
	var (
		addr     string
		path     string
		secret   string
		logLevel string
		accounts []string
	)

	cmd := &cobra.Command{
		Use:           "gatewaysim",
		Short:         "Run a local fake game gateway with a chat auth plugin",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := applog.New(logLevel)
			if secret != "" {
				opts.JWT = &auth.JWTConfig{Secret: []byte(secret)}
			}
			sim := gatewaysim.New(opts, logger)
			for _, acc := range accounts {
				user, pass, ok := cutAccount(acc)
				if !ok {
					return fmt.Errorf("account %q must be user:password", acc)
				}
				sim.Register(user, pass)
			}

			mux := stdhttp.NewServeMux()
			mux.Handle(path, sim)
			server := &stdhttp.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			serverErr := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", addr).Str("path", path).Msg("gateway simulator listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
					serverErr <- err
					return
				}
				serverErr <- nil
			}()

			select {
			case err := <-serverErr:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				logger.Info().Msg("shutting down gateway simulator")
				if err := server.Shutdown(shutdownCtx); err != nil {
					return err
				}
				return <-serverErr
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":25565", "listen address")
	cmd.Flags().StringVar(&path, "path", "/gateway", "WebSocket path")
	cmd.Flags().StringVar(&secret, "secret", "", "require HS256 hello tokens signed with this secret")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().DurationVar(&opts.SpawnDelay, "spawn-delay", opts.SpawnDelay, "delay between hello and spawn")
	cmd.Flags().DurationVar(&opts.TickInterval, "tick", opts.TickInterval, "world clock interval")
	cmd.Flags().StringSliceVar(&opts.Reserved, "reserved", nil, "names reported as already in use")
	cmd.Flags().StringSliceVar(&accounts, "account", nil, "pre-registered account as user:password (repeatable)")
	return cmd
}

func cutAccount(s string) (user, pass string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], i > 0
		}
	}
	return "", "", false
}
