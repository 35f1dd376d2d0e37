package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/domplate/internal/build"
	"github.com/conneroisu/domplate/internal/server"
)

func (c *cli) newServeCmd() *cobra.Command {
	var flags *StandardFlags
	cmd := &cobra.Command{
		Use:     "serve TEMPLATE...",
		Aliases: []string{"s"},
		Short:   "Preview templates with live reload",
		Long: `Start a preview server that renders the templates on every request and
reloads the browser when a template or data file changes. Render problems
are shown in an overlay at the bottom of the page.

Examples:
  domplate serve page.html -d data.json
  domplate serve pages/*.html -d site.yaml --port 3000 --open`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd, flags, args)
		},
	}
	flags = AddStandardFlags(cmd, "data", "render", "watch", "server")
	return cmd
}

func (c *cli) runServe(cmd *cobra.Command, flags *StandardFlags, args []string) error {
	if flags.Data == build.StdinPath {
		return fmt.Errorf("serve cannot read data from stdin")
	}
	c.cfg.TargetFiles = args

	jobs, err := flags.Jobs(c.cfg, args, nil)
	if err != nil {
		return err
	}
	builder, err := c.newBuilder()
	if err != nil {
		return err
	}

	srv, err := server.New(c.cfg, builder, jobs, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start(cmd.Context())
}
