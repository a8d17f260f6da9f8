package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by subcommands.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	remoteFlags := &RemoteFlags{}

	root := &cobra.Command{
		Use:   "gameward",
		Short: "Game server wrapper: supervision, console bridge and crash handling",
		Long: `Gameward wraps a dedicated game server process: it decodes the startup
arguments, supervises the child with crash-loop protection and a stall
watchdog, bridges the operator console to stdin or RCON, mirrors output
to a rotated log file, and archives logs on crashes.

Examples:
  gameward run --config=gameward.toml
  gameward status --api-url=http://127.0.0.1:8400/api
  gameward cmd "server.save" --api-url=http://127.0.0.1:8400/api`,
	}

	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (optional)")

	root.AddCommand(
		createRunCommand(globalFlags),
		createStatusCommand(remoteFlags),
		createCmdCommand(remoteFlags),
		createInitCommand(),
	)
	return root
}
