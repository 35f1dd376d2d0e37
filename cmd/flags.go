package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/domplate/internal/build"
	"github.com/conneroisu/domplate/internal/config"
	"github.com/conneroisu/domplate/internal/datasource"
)

// viperKeyAnnotation ties a flag to the configuration key it overrides.
const viperKeyAnnotation = "viper-key"

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	// Data flags
	Data string

	// Output flags
	Output string
	OutDir string
	Strict bool
}

// AddStandardFlags adds standard flags to a command
func AddStandardFlags(cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case "data":
			addDataFlags(cmd, flags)
		case "render":
			addRenderFlags(cmd)
		case "server":
			addServerFlags(cmd)
		case "watch":
			addWatchFlags(cmd)
		case "output":
			addOutputFlags(cmd, flags)
		}
	}

	return flags
}

func addDataFlags(cmd *cobra.Command, flags *StandardFlags) {
	fs := cmd.Flags()
	fs.StringVarP(&flags.Data, "data", "d", "", "data file (json, jsonc, yaml, cbor, html, markdown), - for stdin")
	fs.String("root", "", "data file that :root refers to")
	fs.String("format", "", "data format, derived from the extension when empty")
	bindKey(fs, "root", "data.root")
	bindKey(fs, "format", "data.format")
}

func addRenderFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntP("concurrency", "j", 100, "elements processed at once")
	fs.Bool("debug", false, "keep whitespace and comments, annotate tree merges")
	fs.String("locale", "en", "locale for dates when no lang attribute is set")
	fs.String("timezone", "UTC", "time zone for epoch timestamps")
	fs.Bool("sanitize", false, "sanitize markup copied by the inner option")
	fs.Bool("fragment", false, "output only the body contents")
	bindKey(fs, "concurrency", "render.concurrency")
	bindKey(fs, "debug", "render.debug")
	bindKey(fs, "locale", "render.locale")
	bindKey(fs, "timezone", "render.timezone")
	bindKey(fs, "sanitize", "render.sanitize")
	bindKey(fs, "fragment", "render.fragment")
}

func addServerFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntP("port", "p", 8080, "port to serve on")
	fs.String("host", "localhost", "host to bind to")
	fs.Bool("open", false, "open the browser")
	bindKey(fs, "port", "server.port")
	bindKey(fs, "host", "server.host")
	bindKey(fs, "open", "server.open")
}

func addWatchFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringSlice("watch", nil, "extra directories to watch recursively")
	fs.Duration("debounce", 0, "quiet period before a rebuild")
	bindKey(fs, "watch", "watch.paths")
	bindKey(fs, "debounce", "watch.debounce")
}

func addOutputFlags(cmd *cobra.Command, flags *StandardFlags) {
	fs := cmd.Flags()
	fs.StringVarP(&flags.Output, "output", "o", "", "output file, stdout when empty")
	fs.StringVar(&flags.OutDir, "out-dir", "", "directory for the outputs of several templates")
	fs.BoolVar(&flags.Strict, "strict", false, "fail when the render reported problems")
}

func bindKey(fs *pflag.FlagSet, name, key string) {
	_ = fs.SetAnnotation(name, viperKeyAnnotation, []string{key})
}

// bindFlags binds every annotated flag to its configuration key. Binding
// happens per run so commands sharing a key do not steal each other's flag.
func bindFlags(v *viper.Viper, sets ...*pflag.FlagSet) error {
	var bindErr error
	for _, fs := range sets {
		fs.VisitAll(func(f *pflag.Flag) {
			keys, ok := f.Annotations[viperKeyAnnotation]
			if !ok || len(keys) == 0 || bindErr != nil {
				return
			}
			if err := v.BindPFlag(keys[0], f); err != nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
	}
	return bindErr
}

// Jobs turns template arguments into build jobs.
func (f *StandardFlags) Jobs(cfg *config.Config, templates []string, stdin io.Reader) ([]build.Job, error) {
	var format datasource.Format
	if cfg.Data.Format != "" {
		parsed, err := datasource.ParseFormat(cfg.Data.Format)
		if err != nil {
			return nil, err
		}
		format = parsed
	}

	if f.Data == build.StdinPath && len(templates) > 1 {
		return nil, fmt.Errorf("data from stdin can only be used with a single template")
	}

	jobs := make([]build.Job, 0, len(templates))
	for _, tpl := range templates {
		jobs = append(jobs, build.Job{
			Template: tpl,
			Data:     f.Data,
			Root:     cfg.Data.Root,
			Format:   format,
			Fragment: cfg.Render.Fragment,
			Input:    stdin,
		})
	}
	return jobs, nil
}
