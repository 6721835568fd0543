// Package cmd defines and implements the CLI commands for the aipolicy executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ai-policy-docs/internal/api"
	"github.com/JakeFAU/ai-policy-docs/internal/app"
	"github.com/JakeFAU/ai-policy-docs/internal/config"
	"github.com/JakeFAU/ai-policy-docs/internal/jobs"
	"github.com/JakeFAU/ai-policy-docs/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	SyncJob() *jobs.Sync
	ClassifyJob() (*jobs.Classify, error)
	RefreshJob() (*jobs.Refresh, error)
	APIServer() *api.Server
	RunJob(ctx context.Context, job string, run func(ctx context.Context, runID string) error) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aipolicy",
		Short: "Federal Register AI-policy document pipeline.",
		Long: `aipolicy pulls documents from the Federal Register, classifies them for
AI-policy relevance with an LLM and keeps their engagement metrics fresh.
Each subcommand runs one batch job to completion.`,
		SilenceUsage: true,

		// Build and inject the application before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newClassifyCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so running jobs drain cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		_ = zap.L().Sync() //nolint:errcheck // best-effort flush
		stop()
		os.Exit(1)
	}
}
