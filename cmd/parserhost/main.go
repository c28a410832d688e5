// Command parserhost lists, inspects and runs sandboxed log parser plugins.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/logweave/parserhost/application/template"
	"github.com/logweave/parserhost/application/validation"
	"github.com/logweave/parserhost/host/registry"
	"github.com/logweave/parserhost/infrastructure/logger"
	"github.com/logweave/parserhost/infrastructure/tracer"
)

// defaultPluginDir is scanned when --plugins is not given.
const defaultPluginDir = "plugins"

type globalFlags struct {
	manifestVars map[string]string
	logLevel     string
	logFormat    string
	trace        bool
}

type app struct {
	logger        *slog.Logger
	shutdownTrace func(context.Context) error
	flags         globalFlags
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "parserhost: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{logger: slog.Default()}

	root := &cobra.Command{
		Use:           "parserhost",
		Short:         "Run sandboxed log parser plugins",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.logger = logger.NewWithWriter(logger.Config{
				Level:  a.flags.logLevel,
				Format: a.flags.logFormat,
			}, cmd.ErrOrStderr())

			shutdown, err := tracer.Setup(cmd.Context(), tracer.Config{
				Enabled:  a.flags.trace,
				Exporter: "stdout",
				Writer:   cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			a.shutdownTrace = shutdown
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.shutdownTrace == nil {
				return nil
			}
			return a.shutdownTrace(context.WithoutCancel(cmd.Context()))
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.flags.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	flags.StringVar(&a.flags.logFormat, "log-format", "text", "log format: text or json")
	flags.BoolVar(&a.flags.trace, "trace", false, "print OpenTelemetry spans to stderr")
	flags.StringToStringVar(&a.flags.manifestVars, "manifest-var", nil, "variables for plugin.yaml templates (key=value)")

	root.AddCommand(newFormatsCmd(a))
	root.AddCommand(newSchemaCmd(a))
	root.AddCommand(newParseCmd(a))
	return root
}

// loadRegistry discovers the plugins under dirs and publishes the options
// schemas of the built-in typed formats. Broken manifests are reported as
// warnings.
func (a *app) loadRegistry(cmd *cobra.Command, dirs []string) (*registry.Registry, error) {
	reg := registry.NewRegistry(
		registry.WithLogger(a.logger),
		registry.WithTemplateEngine(template.NewGoTemplateEngine()),
		registry.WithManifestVars(a.flags.manifestVars),
	)
	for id, model := range validation.Models() {
		if err := reg.RegisterOptionsSchema(id, model); err != nil {
			return nil, err
		}
	}
	if _, err := reg.Discover(dirs...); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	return reg, nil
}
