package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gameward.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Restart.Enabled {
		t.Error("restart should default to enabled")
	}
	if cfg.Restart.Window != 5*time.Minute {
		t.Errorf("restart.window = %v", cfg.Restart.Window)
	}
	if cfg.Console.DefaultRoute != "auto" {
		t.Errorf("console.default_route = %q", cfg.Console.DefaultRoute)
	}
	if cfg.Rcon.Flavor != "websocket" {
		t.Errorf("rcon.flavor = %q", cfg.Rcon.Flavor)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, `
server_dir = "/srv/game"

[args]
tokens = "./server +server.port 28015"

[rcon]
port = 28016
password = "hunter2"
flavor = "binary"

[restart]
max = 2
window = "60s"

[shutdown]
remote_commands = ["save", "quit"]
local_commands = ["sync"]
timeout = "20s"

[[tasks]]
name = "autosave"
schedule = "@every 5m"
line = "::rcon save"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerDir != "/srv/game" {
		t.Errorf("server_dir = %q", cfg.ServerDir)
	}
	if !cfg.Rcon.Configured() {
		t.Error("rcon should be configured")
	}
	if cfg.Rcon.Addr() != "127.0.0.1:28016" {
		t.Errorf("rcon addr = %q", cfg.Rcon.Addr())
	}
	if cfg.Restart.Max != 2 || cfg.Restart.Window != time.Minute {
		t.Errorf("restart = %+v", cfg.Restart)
	}
	if len(cfg.Shutdown.RemoteCommands) != 2 || cfg.Shutdown.RemoteCommands[1] != "quit" {
		t.Errorf("shutdown.remote_commands = %v", cfg.Shutdown.RemoteCommands)
	}
	if len(cfg.Tasks) != 1 || cfg.Tasks[0].Schedule != "@every 5m" {
		t.Errorf("tasks = %+v", cfg.Tasks)
	}
}

func TestValidateRejectsBadRoute(t *testing.T) {
	path := writeConfig(t, `
[console]
default_route = "carrier-pigeon"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRconRouteNeedsCredentials(t *testing.T) {
	path := writeConfig(t, `
[console]
default_route = "rcon"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for rcon route without credentials")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GAMEWARD_RCON_PASSWORD", "sekret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rcon.Password != "sekret" {
		t.Errorf("rcon.password = %q, want env override", cfg.Rcon.Password)
	}
}
