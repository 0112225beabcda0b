// Command wactl is the operator CLI: kill-switches, rate-limit state and
// per-tenant sending status. It talks to the same Postgres and Redis as
// the server, so changes take effect on the next message a worker sends.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/app"
	"github.com/unclebandit/wacampaign-backend/internal/config"
)

var (
	actor   string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "wactl",
	Short:         "wactl - operator controls for the WhatsApp campaign backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var killSwitchCmd = &cobra.Command{
	Use:   "kill-switch",
	Short: "Enable or disable sending globally or for one tenant",
}

var killSwitchGlobalCmd = &cobra.Command{
	Use:       "global on|off",
	Short:     "Turn sending on or off for every tenant",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseToggle(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if !a.Config.Redis.Enabled {
				a.Logger.Warn("redis disabled: the global kill-switch only lives in this process")
			}
			if err := a.AdminService.SetGlobalSending(ctx, actor, enabled); err != nil {
				return err
			}
			return printJSON(map[string]any{"scope": "global", "sending_enabled": enabled})
		})
	},
}

var killSwitchTenantCmd = &cobra.Command{
	Use:   "tenant <tenant-id> on|off",
	Short: "Turn sending on or off for a single tenant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseToggle(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if err := a.AdminService.SetTenantSending(ctx, actor, args[0], enabled); err != nil {
				return err
			}
			return printJSON(map[string]any{"scope": "tenant", "tenant_id": args[0], "sending_enabled": enabled})
		})
	},
}

var rateLimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect or reset a tenant's adaptive send rate",
}

var rateLimitShowCmd = &cobra.Command{
	Use:   "show <tenant-id>",
	Short: "Print the tenant's current rate-limit state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			snap, err := a.AdminService.RateLimitState(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(snap)
		})
	},
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset <tenant-id>",
	Short: "Put the tenant back on the initial rate and clear any cooldown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			snap, err := a.AdminService.ResetRateLimit(ctx, actor, args[0])
			if err != nil {
				return err
			}
			return printJSON(snap)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <tenant-id>",
	Short: "Print whether the tenant can send and why not",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			st, err := a.AdminService.TenantStatus(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(st)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "Name recorded in the audit trail")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log connection details to stderr")

	killSwitchCmd.AddCommand(killSwitchGlobalCmd)
	killSwitchCmd.AddCommand(killSwitchTenantCmd)
	rateLimitCmd.AddCommand(rateLimitShowCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)

	rootCmd.AddCommand(killSwitchCmd)
	rootCmd.AddCommand(rateLimitCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "wactl:", err)
		os.Exit(1)
	}
}

// withApp connects to the backing services, runs fn and closes everything,
// flushing any pending audit entries.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	if verbose {
		if logger, err = app.NewLogger(cfg); err != nil {
			return err
		}
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}

func parseToggle(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "wactl"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
