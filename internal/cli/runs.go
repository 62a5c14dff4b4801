package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/purlieu-studios/DevPilot-sub002/internal/config"
	"github.com/purlieu-studios/DevPilot-sub002/internal/store"
)

func newRunsCmd() *cobra.Command {
	var (
		limit    int
		awaiting bool
		runID    string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			st, err := openStore(cfg, home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if runID != "" {
				return printRunDetail(cmd, st, runID)
			}

			var runs []store.RunRecord
			if awaiting {
				runs, err = st.ListAwaitingApproval(cmd.Context())
			} else {
				runs, err = st.ListRuns(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "RUN ID\tSTAGE\tOK\tREVISIONS\tCREATED\tREQUEST")
			for _, r := range runs {
				ok := "no"
				switch {
				case r.Success:
					ok = "yes"
				case r.RequiresApproval:
					ok = "pending"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.RunID, r.FinalStage, ok, r.RevisionCount,
					r.CreatedAt.Format("2006-01-02 15:04"), truncate(r.Request, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Max runs to list (default 100)")
	cmd.Flags().BoolVar(&awaiting, "awaiting", false, "Only runs blocked on approval")
	cmd.Flags().StringVar(&runID, "id", "", "Show the full detail of one run")

	return cmd
}

func printRunDetail(cmd *cobra.Command, st store.Store, runID string) error {
	run, err := st.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "run %s\n", run.RunID)
	_, _ = fmt.Fprintf(out, "  request:   %s\n", run.Request)
	_, _ = fmt.Fprintf(out, "  stage:     %s\n", run.FinalStage)
	_, _ = fmt.Fprintf(out, "  success:   %v\n", run.Success)
	if run.RequiresApproval {
		_, _ = fmt.Fprintf(out, "  approval:  required (%s)\n", run.ApprovalReason)
	}
	if run.Message != "" {
		_, _ = fmt.Fprintf(out, "  message:   %s\n", run.Message)
	}
	_, _ = fmt.Fprintf(out, "  revisions: %d, test failures: %d, duration: %s\n",
		run.RevisionCount, run.TestFailures, run.Duration)

	transitions, err := st.GetTransitions(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(transitions) > 0 {
		_, _ = fmt.Fprintln(out, "  trail:")
		for _, tr := range transitions {
			_, _ = fmt.Fprintf(out, "    %s -> %s\n", tr.FromStage, tr.ToStage)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
