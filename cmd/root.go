// Package cmd defines the CLI commands for the starmark executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/batch"
	"github.com/JakeFAU/starmark/internal/config"
	"github.com/JakeFAU/starmark/internal/crawler"
	"github.com/JakeFAU/starmark/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the application container. Tests
// inject a fake through the factory.
type App interface {
	Logger() *zap.Logger
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	CheckKeys(ctx context.Context) map[string]bool
	RunBatch(ctx context.Context, targets []crawler.CrawlTarget) (batch.Summary, error)
	ListResults(ctx context.Context) ([]crawler.ChatCrawlResult, error)
	StarredTargets(ctx context.Context, user string) ([]crawler.CrawlTarget, error)
}

// appFactory builds the App from loaded configuration.
type appFactory func(ctx context.Context, cfg *config.Config) (App, error)

func buildApp(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

type rootOptions struct {
	configFile string
	envFile    string
}

// newRootCmd creates the root command. newApp runs after config is loaded
// and before the subcommand's RunE.
func newRootCmd(newApp appFactory) *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:   "starmark",
		Short: "Crawl bookmarks and starred repositories into structured summaries.",
		Long: `starmark extracts page content through hosted reader backends, asks a
language model to summarize and tag it, and stores the results. Run it as an
HTTP service with "serve" or crawl a list of URLs directly with "crawl".`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(newServeCmd(), newCrawlCmd(), newCheckCmd(), newResultsCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(buildApp).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
