package cli

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/purlieu-studios/DevPilot-sub002/internal/config"
	"github.com/purlieu-studios/DevPilot-sub002/internal/pipeline"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify runtime dependencies and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			cfg, err := config.Load(home)
			if err != nil {
				problems = append(problems, fmt.Sprintf("config: %v", err))
				cfg = config.Default()
			}

			if cfg.Runtime == "subprocess" {
				for _, s := range pipeline.AgentStages() {
					stage := string(s)
					ac, ok := cfg.Agents[stage]
					if !ok || ac.Command == "" {
						problems = append(problems, fmt.Sprintf("no agent command configured for stage %s", stage))
						continue
					}
					if _, err := exec.LookPath(ac.Command); err != nil {
						problems = append(problems, fmt.Sprintf("agent command for %s not found on PATH: %s", stage, ac.Command))
					}
				}
			}

			if cfg.Sandbox {
				if _, err := exec.LookPath("bwrap"); err != nil {
					problems = append(problems, "sandbox enabled but bubblewrap (bwrap) not found on PATH")
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
