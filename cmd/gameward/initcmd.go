package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `# gameward configuration

# Directory containing the server executable; argv[0] resolves here.
server_dir = "/server"

[args]
# Startup argument sources, first non-empty wins: file > json > tokens.
# file:   NUL- or newline-delimited vector, e.g. written by an install script
# json:   inline JSON array or base64 of one
# tokens: legacy space-joined list (values with spaces need the repair step)
file = ""
json = ""
tokens = "./RustDedicated -batchmode +server.port 28015 +server.hostname My Server"

[restart]
enabled = true
window = "5m"
max = 5
backoff = "5s"

[watchdog]
enabled = true
idle_timeout = "3m"
poll_interval = "10s"
grace_period = "30s"
# Arms the watchdog when this substring appears in the server output.
ready_marker = ""

[rcon]
host = "127.0.0.1"
port = 28016
password = ""
# "websocket" (JSON frames) or "binary" (length-prefixed TCP)
flavor = "websocket"
dial_timeout = "5s"
command_timeout = "10s"

[console]
# "stdin", "rcon" or "auto" (rcon when a password is set)
default_route = "auto"

[shutdown]
remote_commands = ["server.save", "quit"]
local_commands = []
timeout = "30s"

[log]
file = "logs/server.log"
# Optional server-written log merged into the console view.
tail_file = ""
max_size_mb = 50
max_backups = 5
max_age_days = 14
compress = false
wrapper_file = ""
level = "info"

[archive]
enabled = true
dir = "crash-archives"
extra_dir = ""

[events]
# sqlite:///var/lib/gameward/events.db, postgres://..., clickhouse://...
dsn = ""

[metrics]
enabled = true
listen = ""

[api]
listen = "127.0.0.1:8400"
base_path = "/api"
token = ""

#[[tasks]]
#name = "autosave"
#schedule = "@every 10m"
#line = "server.save"
`

func createInitCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			if err := os.WriteFile(out, []byte(sampleConfig), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "gameward.toml", "destination path")
	return cmd
}
