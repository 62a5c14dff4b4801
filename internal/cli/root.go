// Package cli wires the devpilot command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/purlieu-studios/DevPilot-sub002/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "devpilot",
		Short:        "DevPilot — bounded pipeline orchestration for automated code changes",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override DevPilot home directory (default: ~/.devpilot, env: DEVPILOT_HOME)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newGateCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newApproveCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
