package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/purlieu-studios/DevPilot-sub002/internal/sandbox"
)

// SubprocessAgent runs a local agent binary: stdin = JSON Request, stdout =
// NDJSON events per line. Lines that do not parse as events accumulate into
// the textual artifact returned as Result.Output.
// If SandboxHome is set (and bubblewrap is available on Linux), the process
// runs inside a minimal bwrap sandbox. If SandboxRunDir is also set (must be
// under SandboxHome), only that directory is writable; SandboxHome
// (including protected/) is read-only.
type SubprocessAgent struct {
	Command       string
	Args          []string
	Timeout       time.Duration // 0 = use context only
	SandboxHome   string        // if set, run agent inside bubblewrap with this dir writable
	SandboxRunDir string        // if set with SandboxHome, restrict writes to this dir only
}

func (a SubprocessAgent) Name() string { return "subprocess" }

func (a SubprocessAgent) Run(ctx context.Context, req Request, emit func(Event)) (Result, error) {
	if a.Command == "" {
		return Result{}, errors.New("subprocess command is required")
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	var cmd *exec.Cmd
	if a.SandboxHome != "" {
		cmd = sandbox.WrapCommand(ctx, a.SandboxHome, a.SandboxRunDir, a.Command, a.Args)
	} else {
		cmd = exec.CommandContext(ctx, a.Command, a.Args...)
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}
	cmd.Stdin = strings.NewReader(string(reqJSON) + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	if err := cmd.Start(); err != nil {
		return Result{}, err
	}
	defer func() {
		if ctx.Err() != nil {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
		if err := cmd.Wait(); err != nil {
			slog.Warn("agent subprocess exited with error", "stage", req.Stage, "err", err)
		}
	}()

	var output strings.Builder
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type == "" {
			output.WriteString(line)
			output.WriteString("\n")
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		if ev.RunID == "" {
			ev.RunID = req.RunID
		}
		if ev.Stage == "" {
			ev.Stage = req.Stage
		}
		if emit != nil {
			emit(ev)
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, err
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	return Result{Output: strings.TrimSpace(output.String())}, nil
}
