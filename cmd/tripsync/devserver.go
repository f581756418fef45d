package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/vonshlovens/tripsync/internal/devserver"
)

func devserverCmd() *cobra.Command {
	var (
		addr     string
		users    []string
		secret   string
		tokenTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run an in-memory diary service for local testing",
		Long:  `Serves the diary sync API from memory. Nothing is persisted; restarting the server forgets every account and trip.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(users) == 0 {
				return fmt.Errorf("at least one --user name:password is required")
			}
			if !verbose {
				gin.SetMode(gin.ReleaseMode)
			}
			if secret == "" {
				buf := make([]byte, 32)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				secret = hex.EncodeToString(buf)
			}

			server := devserver.New(secret, tokenTTL)
			for _, u := range users {
				name, password, ok := strings.Cut(u, ":")
				if !ok || name == "" {
					return fmt.Errorf("invalid --user %q, expected name:password", u)
				}
				server.AddUser(name, password)
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("devserver listening", "addr", addr, "users", len(users))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				slog.Info("shutting down")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8000", "listen address")
	cmd.Flags().StringArrayVarP(&users, "user", "u", nil, "account as name:password (repeatable)")
	cmd.Flags().StringVar(&secret, "secret", "", "token signing secret (random when empty)")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", time.Hour, "access token lifetime")
	return cmd
}
