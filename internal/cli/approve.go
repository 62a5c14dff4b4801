package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/purlieu-studios/DevPilot-sub002/internal/config"
)

func newApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <run-id>",
		Short: "Grant approval on a run blocked at the risk gate",
		Args:  cobra.ExactArgs(1),
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

			granted, err := st.GrantApproval(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !granted {
				return fmt.Errorf("run %s is not awaiting approval", args[0])
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "approval granted for run %s\n", args[0])
			return nil
		},
	}
	return cmd
}
