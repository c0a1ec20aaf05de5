package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/linnemanlabs/traceback/internal/app"
	tc "github.com/linnemanlabs/traceback/internal/cfg"
)

const envPrefix = "TRACEBACK_"

// rootOptions carries the settings shared by every subcommand.
type rootOptions struct {
	appCfg  tc.Config
	logCfg  log.Config
	goFlags *flag.FlagSet
	verbose bool
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{goFlags: flag.NewFlagSet(appName, flag.ContinueOnError)}
	o.appCfg.RegisterFlags(o.goFlags)
	o.logCfg.RegisterFlags(o.goFlags)

	root := &cobra.Command{
		Use:   "traceback",
		Short: "Lineage-aware incident triage for data pipelines",
		Long: `traceback answers questions about data incidents.

It resolves the assets a question mentions against the lineage graph, gathers
evidence from the document corpus and asks the configured model for an
incident brief with the downstream blast radius.

Every server flag is accepted here and can also be set through TRACEBACK_*
environment variables.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			o.fillFromEnv(cmd)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().AddGoFlagSet(o.goFlags)
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "Verbose output (logs to stderr, stage details)")

	root.AddCommand(newTriageCmd(o))
	root.AddCommand(newSearchCmd(o))
	root.AddCommand(newLineageCmd(o))
	root.AddCommand(newVersionCmd())

	return root
}

// fillFromEnv copies command-line values back into the go FlagSet so it
// records them as set, then fills the rest from the environment.
func (o *rootOptions) fillFromEnv(cmd *cobra.Command) {
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if o.goFlags.Lookup(f.Name) != nil {
			_ = o.goFlags.Set(f.Name, f.Value.String())
		}
	})
	cfg.FillFromEnv(o.goFlags, envPrefix, func(format string, args ...any) {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	})
}

func (o *rootOptions) logger() (log.Logger, error) {
	if !o.verbose {
		return log.Nop(), nil
	}
	if err := o.logCfg.Validate(); err != nil {
		return nil, fmt.Errorf("log configuration: %w", err)
	}
	var (
		lg  log.Logger
		err error
	)
	lg, err = log.New(o.logCfg.ToOptions(appName))
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return lg.With("component", component), nil
}

// newApp validates the engine settings and builds the application. Callers
// must Close the returned App.
func (o *rootOptions) newApp(ctx context.Context, requireLLM bool) (*app.App, error) {
	if err := o.appCfg.ValidateEngine(requireLLM); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	lg, err := o.logger()
	if err != nil {
		return nil, err
	}
	return app.New(log.WithContext(ctx, lg), o.appCfg, lg, app.Options{RequireLLM: requireLLM})
}
