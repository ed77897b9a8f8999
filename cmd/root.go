// Package cmd defines the tagfeed command line.
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

	"github.com/JakeFAU/tagfeed/internal/app"
	"github.com/JakeFAU/tagfeed/internal/config"
	"github.com/JakeFAU/tagfeed/internal/logging"
	"github.com/JakeFAU/tagfeed/internal/session"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the service container commands use. Tests swap in their own.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	NewSession(mount session.Mount) (*session.Session, error)
}

// newApp is the application factory.
var newApp = func(cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init app: %w", err)
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tagfeed",
		Short: "Read a site's tag index as an infinitely scrolling feed.",
		Long: `tagfeed loads the posts listed on a tag index page and fetches each
post's content lazily, as it nears the visible window. It can run as an
interactive terminal reader, dump a whole feed to local disk or GCS, or serve
feed sessions over HTTP.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cfgFile)
			if err != nil {
				return err
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

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tagfeed.yaml)")

	cmd.AddCommand(newReadCmd(), newDumpCmd(), newServeCmd())
	return cmd
}

// Execute runs the root command until it finishes or the process is signaled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "tagfeed:", err)
		stop()
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// mountFlags override the configured mount for one run.
type mountFlags struct {
	tag         string
	batchSize   int
	concurrent  int
	hideStatus  bool
	displayName string
}

func (f *mountFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tag, "tag", "", "tag to load (same as the positional argument)")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "entries rendered per batch")
	cmd.Flags().IntVar(&f.concurrent, "concurrent", 0, "maximum concurrent content fetches")
	cmd.Flags().BoolVar(&f.hideStatus, "hide-status", false, "hide the progress line")
	cmd.Flags().StringVar(&f.displayName, "author", "", "name shown on every entry")
}

// mount layers the tag argument and any changed flags over base.
func (f *mountFlags) mount(cmd *cobra.Command, base session.Mount, args []string) session.Mount {
	switch {
	case len(args) > 0:
		base.Tag = args[0]
	case cmd.Flags().Changed("tag"):
		base.Tag = f.tag
	}
	if cmd.Flags().Changed("batch-size") {
		base.BatchSize = f.batchSize
	}
	if cmd.Flags().Changed("concurrent") {
		base.MaxConcurrency = f.concurrent
	}
	if cmd.Flags().Changed("hide-status") {
		base.ShowStatus = !f.hideStatus
	}
	if cmd.Flags().Changed("author") {
		base.DisplayName = f.displayName
	}
	return base.Normalize()
}
