package main

import (
	"fmt"
	"strings"

	v "github.com/linnemanlabs/go-core/version"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/traceback/internal/triage"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type triageOptions struct {
	output   string
	priority string
}

func newTriageCmd(o *rootOptions) *cobra.Command {
	opts := &triageOptions{}

	cmd := &cobra.Command{
		Use:   "triage <question>",
		Short: "Triage an incident question",
		Long: `Run the triage workflow for a question and print the incident brief.

Questions that name a known asset (namespace.table) get an impact assessment
with the downstream blast radius and affected dashboards.`,
		Example: `  traceback triage "curated.sales_orders is missing yesterday's rows"
  traceback triage -o json --priority high "raw.sales_orders load failed"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.output); err != nil {
				return err
			}
			a, err := o.newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Service.Triage(cmd.Context(), triage.Request{
				Question: strings.Join(args, " "),
				Priority: opts.priority,
			})
			if err != nil {
				return err
			}
			if opts.output == formatJSON {
				return renderJSON(cmd.OutOrStdout(), res)
			}
			renderResult(cmd.OutOrStdout(), res, o.verbose)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", formatText, "Output format (text|json)")
	cmd.Flags().StringVarP(&opts.priority, "priority", "p", "medium", "Incident priority recorded with the result")
	return cmd
}

type searchOptions struct {
	output string
	limit  int
}

func newSearchCmd(o *rootOptions) *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search documents and lineage for evidence",
		Long: `Run the lineage-aware retriever: semantic hits from the document corpus
followed by lineage facts for every asset the query mentions.`,
		Example: `  traceback search "revenue summary late"
  traceback search -l 10 "curated.sales_orders"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.output); err != nil {
				return err
			}
			if opts.limit < 1 || opts.limit > maxSearchLimit {
				return fmt.Errorf("limit must be 1..%d", maxSearchLimit)
			}
			a, err := o.newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			frags, err := a.Retriever.Search(cmd.Context(), query, opts.limit)
			if err != nil {
				// lineage fragments survive a searcher failure
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			if opts.output == formatJSON {
				return renderJSON(cmd.OutOrStdout(), frags)
			}
			renderFragments(cmd.OutOrStdout(), frags)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", formatText, "Output format (text|json)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "l", defaultSearchLimit, "Maximum number of fragments (1..50)")
	return cmd
}

// lineageView is the lineage report for one table.
type lineageView struct {
	Table                string   `json:"table"`
	Known                bool     `json:"known"`
	UpstreamDependencies []string `json:"upstream_dependencies"`
	DownstreamImpact     []string `json:"downstream_impact"`
	Dashboards           []string `json:"dashboards"`
	TotalDependencies    int      `json:"total_dependencies"`
}

func newLineageCmd(o *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "lineage <table>",
		Short: "Show upstream dependencies and downstream impact of a table",
		Example: `  traceback lineage curated.sales_orders
  traceback lineage -o json raw.sales_orders`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			a, err := o.newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			g := a.Lineage.Current()
			id := args[0]
			_, known := g.Node(id)
			up := g.UpstreamDependencies(id)
			down := g.DownstreamImpact(id)
			view := lineageView{
				Table:                id,
				Known:                known,
				UpstreamDependencies: up,
				DownstreamImpact:     down,
				Dashboards:           g.DashboardsReading(append([]string{id}, down...)...),
				TotalDependencies:    len(up) + len(down),
			}

			if output == formatJSON {
				return renderJSON(cmd.OutOrStdout(), view)
			}
			renderLineage(cmd.OutOrStdout(), view)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", formatText, "Output format (text|json)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display traceback version and build information.`,
		Run: func(cmd *cobra.Command, _ []string) {
			vi := v.Get()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(),
				"%s (%s) %s (commit=%s, build_date=%s, go=%s)\n",
				vi.AppName, vi.Component, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion,
			)
		},
	}
}
