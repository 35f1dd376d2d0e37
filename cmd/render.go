package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/domplate/internal/build"
)

func (c *cli) newRenderCmd() *cobra.Command {
	var flags *StandardFlags
	cmd := &cobra.Command{
		Use:     "render TEMPLATE...",
		Aliases: []string{"r"},
		Short:   "Render templates with data",
		Long: `Render one or more templates with a data file and write the result.

Problems that only affect part of the page, such as an undefined variable or
a failing renderer, are reported on stderr and leave that part of the
template as it was. Use --strict to turn them into a failure.

Examples:
  domplate render page.html -d data.json
  domplate render page.html -d data.yaml -o public/index.html
  cat data.json | domplate render page.html -d -
  domplate render pages/*.html -d site.json --out-dir public`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runRender(cmd, flags, args)
		},
	}
	flags = AddStandardFlags(cmd, "data", "render", "output")
	return cmd
}

func (c *cli) runRender(cmd *cobra.Command, flags *StandardFlags, args []string) error {
	if err := flags.checkOutput(len(args)); err != nil {
		return err
	}
	c.cfg.TargetFiles = args

	jobs, err := flags.Jobs(c.cfg, args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	builder, err := c.newBuilder()
	if err != nil {
		return err
	}

	degraded := 0
	for _, job := range jobs {
		result := builder.Build(cmd.Context(), job)
		if err := c.emit(cmd, flags, result); err != nil {
			return err
		}
		if len(result.Failures) > 0 {
			degraded++
		}
	}

	if flags.Strict && degraded > 0 {
		return fmt.Errorf("%d template(s) rendered with problems", degraded)
	}
	return nil
}

// checkOutput rejects output flags that cannot hold n results.
func (f *StandardFlags) checkOutput(n int) error {
	if f.Output != "" && f.OutDir != "" {
		return fmt.Errorf("--output and --out-dir are mutually exclusive")
	}
	if n > 1 && f.OutDir == "" {
		return fmt.Errorf("%d templates need --out-dir", n)
	}
	return nil
}

// destination is where the output for template goes, empty for stdout.
func (f *StandardFlags) destination(template string) string {
	switch {
	case f.OutDir != "":
		return filepath.Join(f.OutDir, filepath.Base(template))
	default:
		return f.Output
	}
}

// emit reports the failures of result and writes its output.
func (c *cli) emit(cmd *cobra.Command, flags *StandardFlags, result build.BuildResult) error {
	if result.Error != nil {
		return fmt.Errorf("render %s: %w", result.Job.Template, result.Error)
	}

	for _, f := range result.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s [%s] %s\n", result.Job.Template, f.Severity, f.Code, f.Message)
	}

	dest := flags.destination(result.Job.Template)
	if dest == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), result.Output)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(dest, []byte(result.Output+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	c.logger.Debug(cmd.Context(), "wrote output", "path", dest, "bytes", len(result.Output))
	return nil
}
