package cli

import (
	"fmt"
	"time"

	"github.com/purlieu-studios/DevPilot-sub002/internal/agent"
	"github.com/purlieu-studios/DevPilot-sub002/internal/config"
	"github.com/purlieu-studios/DevPilot-sub002/internal/pipeline"
	"github.com/purlieu-studios/DevPilot-sub002/internal/store"
	"github.com/purlieu-studios/DevPilot-sub002/internal/store/postgres"
	"github.com/purlieu-studios/DevPilot-sub002/internal/store/sqlite"
)

// buildAgents turns the config into one agent binding per pipeline stage.
func buildAgents(cfg *config.Config, home string) (map[pipeline.Stage]agent.Agent, error) {
	agents := make(map[pipeline.Stage]agent.Agent, len(pipeline.AgentStages()))
	switch cfg.Runtime {
	case "", "stub":
		for _, s := range pipeline.AgentStages() {
			agents[s] = agent.StubAgent{}
		}
	case "subprocess":
		for _, s := range pipeline.AgentStages() {
			ac, ok := cfg.Agents[string(s)]
			if !ok || ac.Command == "" {
				return nil, fmt.Errorf("no agent command configured for stage %s", s)
			}
			sub := agent.SubprocessAgent{
				Command: ac.Command,
				Args:    ac.Args,
				Timeout: time.Duration(ac.Timeout),
			}
			if cfg.Sandbox {
				sub.SandboxHome = home
			}
			agents[s] = sub
		}
	default:
		return nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}
	return agents, nil
}

// openStore opens the configured persistence backend.
func openStore(cfg *config.Config, home string) (store.Store, error) {
	if cfg.Store.Driver == "postgres" {
		return postgres.Open(cfg.Store.DSN)
	}
	return sqlite.Open(home)
}
