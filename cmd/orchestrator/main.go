// Command orchestrator runs the maintenance orchestration service: the HTTP
// API, schema migrations, one-off requests and workflow inspection.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/phrazzld/maintenance-orchestrator/internal/config"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/logger"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(cliDeps{}).Execute(); err != nil {
		os.Exit(1)
	}
}

// cliDeps are injected into every command; zero values select production defaults.
type cliDeps struct {
	app       appOptions
	logOutput io.Writer
}

// cli carries flags and dependencies shared by the subcommands.
type cli struct {
	deps       cliDeps
	configFile string
	logLevel   string
}

func newRootCmd(deps cliDeps) *cobra.Command {
	c := &cli{deps: deps}

	root := &cobra.Command{
		Use:          "orchestrator",
		Short:        "Maintenance request and photo analysis orchestrator",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "path to a YAML config file (default ./config.yaml if present)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(c),
		newMigrateCmd(c),
		newProcessCmd(c),
		newWorkflowsCmd(c),
	)
	return root
}

// load reads configuration and builds the logger.
func (c *cli) load() (*config.Config, *slog.Logger, error) {
	fs := c.deps.app.fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cfg, err := config.LoadWithOptions(config.Options{ConfigFile: c.configFile, Fs: fs})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.logLevel != "" {
		cfg.Server.LogLevel = c.logLevel
	}

	out := c.deps.logOutput
	if out == nil {
		out = os.Stderr
	}
	log, err := logger.SetupWithWriter(cfg.Server.LogLevel, out)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return cfg, log, nil
}

// openApp loads configuration and wires the application.
func (c *cli) openApp(ctx context.Context) (*application, error) {
	cfg, log, err := c.load()
	if err != nil {
		return nil, err
	}
	return newApplication(ctx, cfg, log, c.deps.app)
}
