package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/domplate/internal/build"
	"github.com/conneroisu/domplate/internal/watcher"
)

func (c *cli) newWatchCmd() *cobra.Command {
	var flags *StandardFlags
	cmd := &cobra.Command{
		Use:     "watch TEMPLATE...",
		Aliases: []string{"w"},
		Short:   "Re-render templates when they or their data change",
		Long: `Render the templates once, then render them again whenever a template,
data or root file changes. This is useful when another tool serves the
output directory.

Examples:
  domplate watch page.html -d data.json -o public/index.html
  domplate watch pages/*.html -d site.yaml --out-dir public --watch partials`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWatch(cmd, flags, args)
		},
	}
	flags = AddStandardFlags(cmd, "data", "render", "watch", "output")
	return cmd
}

func (c *cli) runWatch(cmd *cobra.Command, flags *StandardFlags, args []string) error {
	if err := flags.checkOutput(len(args)); err != nil {
		return err
	}
	if flags.Output == "" && flags.OutDir == "" {
		return fmt.Errorf("watch needs --output or --out-dir")
	}
	if flags.Data == build.StdinPath {
		return fmt.Errorf("watch cannot read data from stdin")
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

	ctx := cmd.Context()
	rebuild := func(ctx context.Context) {
		for _, job := range jobs {
			result := builder.Build(ctx, job)
			if err := c.emit(cmd, flags, result); err != nil {
				c.logger.Error(ctx, err, "rebuild failed", "template", job.Template)
			}
		}
	}
	rebuild(ctx)

	fw, err := watcher.NewFileWatcher(c.cfg.Watch.Debounce, c.logger)
	if err != nil {
		return err
	}
	defer fw.Stop()

	fw.AddFilter(watcher.NoTempFilter)
	fw.AddFilter(watcher.IgnoreFilter(c.cfg.Watch.Ignore...))
	for _, path := range watchedPaths(jobs) {
		if err := fw.AddFile(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
	for _, dir := range c.cfg.Watch.Paths {
		if err := fw.AddRecursive(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		for _, event := range events {
			builder.Invalidate(event.Path)
			c.logger.Info(ctx, "file changed", "path", event.Path, "type", event.Type.String())
		}
		for _, path := range watchedPaths(jobs) {
			// the watcher reports absolute paths
			builder.Invalidate(path)
		}
		rebuild(ctx)
		return nil
	})

	if err := fw.Start(ctx); err != nil {
		return err
	}
	c.logger.Info(ctx, "watching for changes", "templates", len(jobs))

	<-ctx.Done()
	return nil
}

func watchedPaths(jobs []build.Job) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, job := range jobs {
		for _, p := range []string{job.Template, job.Data, job.Root} {
			if p != "" && !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths
}
