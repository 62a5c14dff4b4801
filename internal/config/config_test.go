package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWithHome_HomeFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, ok := HomeFrom(ctx); ok {
		t.Fatal("expected no home in empty context")
	}
	ctx = WithHome(ctx, "/foo/bar")
	got, ok := HomeFrom(ctx)
	if !ok || got != "/foo/bar" {
		t.Fatalf("HomeFrom: got %q, ok=%v; want /foo/bar, true", got, ok)
	}
}

func TestMustHomeFrom(t *testing.T) {
	t.Parallel()
	ctx := WithHome(context.Background(), "/devpilot")
	if got := MustHomeFrom(ctx); got != "/devpilot" {
		t.Fatalf("MustHomeFrom: got %q", got)
	}
}

func TestMustHomeFrom_panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when home missing")
		}
	}()
	MustHomeFrom(context.Background())
}

func TestResolveHome_override(t *testing.T) {
	t.Parallel()
	got, err := ResolveHome("/custom/home")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/custom/home") {
		t.Fatalf("ResolveHome: got %q", got)
	}
}

func TestResolveHome_env(t *testing.T) {
	t.Setenv("DEVPILOT_HOME", "/env/home")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/env/home") {
		t.Fatalf("ResolveHome from env: got %q", got)
	}
}

func TestResolveHome_default(t *testing.T) {
	t.Setenv("DEVPILOT_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("UserHomeDir: %v", err)
	}
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	want := filepath.Join(home, ".devpilot")
	if got != want {
		t.Fatalf("ResolveHome default: got %q, want %q", got, want)
	}
}

func TestLoad_missingFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime != "stub" || cfg.Store.Driver != "sqlite" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.Server.Listen == "" {
		t.Fatal("default listen address empty")
	}
}

func TestLoad_yaml(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	data := `
runtime: subprocess
sandbox: true
agents:
  planning:
    command: /usr/local/bin/planner
    args: ["--json"]
    timeout: 90s
store:
  driver: postgres
  dsn: postgres://localhost/devpilot
server:
  listen: ":9000"
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime != "subprocess" || !cfg.Sandbox {
		t.Errorf("runtime: %+v", cfg)
	}
	a := cfg.Agents["planning"]
	if a.Command != "/usr/local/bin/planner" || time.Duration(a.Timeout) != 90*time.Second {
		t.Errorf("agent: %+v", a)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN == "" {
		t.Errorf("store: %+v", cfg.Store)
	}
	if cfg.Server.Listen != ":9000" {
		t.Errorf("listen: %q", cfg.Server.Listen)
	}
}

func TestLoad_invalidRuntime(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("runtime: docker\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(home); err == nil {
		t.Fatal("expected error for unknown runtime")
	}
}

func TestValidate_subprocessNeedsCommand(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Runtime: "subprocess",
		Agents:  map[string]AgentConfig{"coding": {}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestSave_roundTrip(t *testing.T) {
	t.Parallel()
	home := filepath.Join(t.TempDir(), "nested")
	cfg := Default()
	cfg.Runtime = "subprocess"
	cfg.Agents = map[string]AgentConfig{
		"testing": {Command: "/bin/test-agent", Timeout: Duration(time.Minute)},
	}
	if err := cfg.Save(home); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Runtime != "subprocess" || got.Agents["testing"].Command != "/bin/test-agent" {
		t.Fatalf("round trip: %+v", got)
	}
	if time.Duration(got.Agents["testing"].Timeout) != time.Minute {
		t.Fatalf("timeout: %v", got.Agents["testing"].Timeout)
	}
}
