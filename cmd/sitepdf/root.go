package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitepdf/internal/config"
	"github.com/JakeFAU/sitepdf/internal/pipeline"
	"github.com/JakeFAU/sitepdf/internal/progress"
	"github.com/JakeFAU/sitepdf/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface the commands use.
type App interface {
	Run(ctx context.Context) error
	Convert(ctx context.Context, job pipeline.Job, sink progress.Sink) (pipeline.Result, error)
	Cleanup(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can swap in a fake.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "sitepdf",
		Short: "Convert websites into PDF documents.",
		Long: `sitepdf crawls a page or a whole site and renders it to PDF.
Run "sitepdf serve" for the HTTP and WebSocket service, or use the convert
and cleanup commands for one-shot work against the same output directory.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); SITEPDF_* env vars override it")

	cmd.AddCommand(newServeCmd(), newConvertCmd(), newCleanupCmd())
	return cmd
}

// withApp resolves the App built by the root command, runs fn, and closes the
// App whether or not fn succeeded.
func withApp(fn func(cmd *cobra.Command, args []string, app App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		appInstance, ok := cmd.Context().Value(appKey).(App)
		if !ok || appInstance == nil {
			return errors.New("application not initialized")
		}
		defer func() {
			if cerr := appInstance.Close(context.Background()); cerr != nil && err == nil {
				err = fmt.Errorf("close app: %w", cerr)
			}
		}()
		return fn(cmd, args, appInstance)
	}
}
