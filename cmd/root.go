// Package cmd provides the command-line interface for domplate.
//
// Configuration System:
//
//	Settings are resolved with this precedence, highest first:
//	1. Command-line flags (--port, --concurrency, etc.)
//	2. Environment variables (DOMPLATE_SERVER_PORT, DOMPLATE_RENDER_LOCALE, ...)
//	3. The config file: --config, else DOMPLATE_CONFIG_FILE, else .domplate.yml
//	4. Built-in defaults
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/domplate/internal/build"
	"github.com/conneroisu/domplate/internal/config"
	"github.com/conneroisu/domplate/internal/logging"
	"github.com/conneroisu/domplate/internal/version"
)

// skipConfig marks commands that run without loading the configuration.
const skipConfig = "skip-config"

// cli holds the state shared by one invocation of the command tree.
type cli struct {
	viper   *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  logging.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{viper: viper.New(), logger: logging.NewNop()}

	root := &cobra.Command{
		Use:   "domplate",
		Short: "Merge data into HTML templates",
		Long: `domplate renders plain HTML templates by merging data into them.
Templates carry their bindings in data-* attributes, so a template is
still a valid page that opens fine in a browser.

Directives:
  data-is=".sel"       bind the element to the selected value(s)
  data-if / data-not   keep or drop the element
  data-to-ATTR=".sel"  set an attribute from the data
  data-$name=".sel"    bind a variable for the subtree
  data-apply=".sel"    import template fragments as children
  data-option="..."    invisible, pass, self, inner, texts

Quick Start:
  domplate render page.html -d data.json          Render to stdout
  domplate watch page.html -d data.json -o out.html  Re-render on change
  domplate serve page.html -d data.json             Preview with live reload`,
		SilenceUsage:      true,
		Version:           version.Get().Short(),
		PersistentPreRunE: c.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default is .domplate.yml, can also use DOMPLATE_CONFIG_FILE env var)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	bindKey(pf, "log-level", "log.level")
	bindKey(pf, "log-format", "log.format")

	root.AddCommand(
		c.newRenderCmd(),
		c.newWatchCmd(),
		c.newServeCmd(),
		c.newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// setup reads the config file and environment, applies the flags of cmd and
// builds the logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if _, ok := cmd.Annotations[skipConfig]; ok {
		return nil
	}

	file := c.cfgFile
	if file == "" {
		file = os.Getenv("DOMPLATE_CONFIG_FILE")
	}
	config.Configure(c.viper, file)

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	if err := bindFlags(c.viper, cmd.Flags(), cmd.InheritedFlags()); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(c.viper)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c.cfg = cfg

	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	c.logger = logger
	if used := c.viper.ConfigFileUsed(); used != "" {
		c.logger.Debug(cmd.Context(), "using config file", "path", used)
	}
	return nil
}

func newLogger(cfg config.LogConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Format,
		Output:    out,
		Component: "cli",
	}), nil
}

func (c *cli) newBuilder() (*build.Builder, error) {
	engine, err := build.EngineConfig(c.cfg)
	if err != nil {
		return nil, err
	}
	return build.NewBuilder(engine, c.logger), nil
}
