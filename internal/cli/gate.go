package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/purlieu-studios/DevPilot-sub002/internal/pipeline"
)

func newGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate <plan.json>",
		Short: "Evaluate the risk gate against a planning artifact (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			var err error
			if args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			decision, err := pipeline.EvaluateGate(string(raw))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !decision.Required {
				_, _ = fmt.Fprintln(out, "approval not required")
				return nil
			}
			_, _ = fmt.Fprintln(out, "approval required:")
			for _, trigger := range decision.Triggers {
				_, _ = fmt.Fprintf(out, "  - %s\n", trigger)
			}
			return nil
		},
	}
	return cmd
}
