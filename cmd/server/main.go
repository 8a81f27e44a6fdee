/*
main.go - Application entry point

PURPOSE:
  Command-line front end of the lottery ledger engine. Every command loads
  the same configuration and wires the same components (see app.go).

COMMANDS:
  serve      run the ops HTTP server, rate-limit janitor and draw scheduler
  migrate    create the schema and exit
  bootstrap  create owner/admin accounts and the first ticket batch
  reset      wipe the inventory and regenerate a fresh batch
  draw       run one draw now

GLOBAL FLAGS:
  --config   YAML configuration file (default: none, built-in defaults)

GRACEFUL SHUTDOWN (serve):
  On SIGINT/SIGTERM:
  1. Stop the draw scheduler (waits for an in-flight draw)
  2. Stop accepting new connections, drain requests (30s timeout)
  3. Close Redis and the database pool

EXAMPLES:
  ./server migrate --config lottery.yaml
  ./server serve --config lottery.yaml
  LOTTERY_DB_DSN=":memory:" ./server serve
  ./server draw --pool all --mode tail

SEE ALSO:
  - config/config.go: configuration keys and environment overrides
  - api/server.go: ops router
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/warp/lottery-engine/api"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "server",
		Short:         "Lottery ledger engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("LOTTERY_CONFIG"), "YAML configuration file")

	root.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
		bootstrapCmd(&configPath),
		resetCmd(&configPath),
		drawCmd(&configPath),
	)
	return root
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ops server, limiter janitor and draw scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.bootstrap(ctx)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			if created > 0 {
				a.log.Info("generated initial ticket batch", zap.Int("tickets", created))
			}

			if a.memory != nil {
				a.memory.StartJanitor(ctx, a.cfg.RateLimit.GCInterval)
			}

			if a.cfg.Draw.Enabled {
				req, err := a.drawRequest("", "")
				if err != nil {
					return err
				}
				scheduler := api.NewDrawScheduler(a.svc, a.operator(), req, a.cfg.Draw.Interval, a.log.Named("scheduler"))
				scheduler.Start()
				defer scheduler.Stop()
			}

			handler := api.NewHandler(a.svc, a.store,
				promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}), a.log.Named("api"))
			server := &http.Server{
				Addr:         a.cfg.Ops.Addr,
				Handler:      api.NewRouter(handler, a.cfg.Ops.CORSOrigins),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				a.log.Info("ops server listening", zap.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return fmt.Errorf("ops server: %w", err)
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("forced shutdown: %w", err)
			}
			a.log.Info("server stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store migrates it.
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			a.log.Info("schema up to date", zap.String("driver", a.store.Driver()))
			return nil
		},
	}
}

func bootstrapCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create privileged accounts and the first ticket batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"createdTickets": created})
		},
	}
}

func resetCmd(configPath *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete purchases, prizes, tickets and member accounts, then regenerate tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes every member account and ticket; pass --yes to confirm")
			}
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Reset(cmd.Context(), a.operator())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func drawCmd(configPath *string) *cobra.Command {
	var pool, mode string
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Run one draw with the configured rewards",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.drawRequest(pool, mode)
			if err != nil {
				return err
			}
			res, err := a.svc.Draw(cmd.Context(), a.operator(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "sold | all (default from config)")
	cmd.Flags().StringVar(&mode, "mode", "", "exclusive | tail (default from config)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
