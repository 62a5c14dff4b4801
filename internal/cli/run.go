package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/purlieu-studios/DevPilot-sub002/internal/agent"
	"github.com/purlieu-studios/DevPilot-sub002/internal/config"
	"github.com/purlieu-studios/DevPilot-sub002/internal/notify"
	"github.com/purlieu-studios/DevPilot-sub002/internal/pipeline"
	"github.com/purlieu-studios/DevPilot-sub002/internal/store"
)

func newRunCmd() *cobra.Command {
	var (
		runtimeKind string
		jsonOut     bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Execute a pipeline run for a change request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if runtimeKind != "" {
				cfg.Runtime = runtimeKind
			}
			agents, err := buildAgents(cfg, home)
			if err != nil {
				return err
			}
			orch, err := pipeline.New(agents)
			if err != nil {
				return err
			}

			emit := func(agent.Event) {}
			if verbose {
				emit = func(ev agent.Event) {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", ev.Stage, ev.Type)
				}
			}

			request := strings.Join(args, " ")
			res := orch.Execute(cmd.Context(), request, emit)

			st, err := openStore(cfg, home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			run, transitions, artifacts := store.FromResult(res)
			if err := st.SaveRun(cmd.Context(), run, transitions, artifacts); err != nil {
				return fmt.Errorf("save run: %w", err)
			}

			if reg := notify.FromEnv(); !reg.Empty() && (res.RequiresApproval || !res.Success) {
				msg := fmt.Sprintf("devpilot run %s ended at %s: %s", run.RunID, res.Stage, res.Message)
				if err := reg.Broadcast(cmd.Context(), msg); err != nil {
					slog.Warn("notify failed", "error", err)
				}
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"run_id":            run.RunID,
					"success":           res.Success,
					"stage":             res.Stage,
					"requires_approval": res.RequiresApproval,
					"message":           res.Message,
					"revision_count":    run.RevisionCount,
					"test_failures":     run.TestFailures,
					"duration_ms":       res.Duration.Milliseconds(),
				})
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "run %s: %s\n", run.RunID, res.Stage)
			if res.Message != "" {
				_, _ = fmt.Fprintf(out, "  %s\n", res.Message)
			}
			switch {
			case res.RequiresApproval:
				_, _ = fmt.Fprintf(out, "  approve with: devpilot approve %s\n", run.RunID)
			case !res.Success:
				return fmt.Errorf("run failed at %s stage", res.Stage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runtimeKind, "runtime", "", "Override agent runtime: stub or subprocess")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print result as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print agent events while the run executes")

	return cmd
}
