package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameward/gameward/pkg/client"
)

// RemoteFlags holds API connection flags for the remote subcommands.
type RemoteFlags struct {
	APIUrl     string
	Token      string
	APITimeout time.Duration
	Insecure   bool
}

func (f *RemoteFlags) client() *client.Client {
	return client.New(client.Config{
		BaseURL:            f.APIUrl,
		Token:              f.Token,
		Timeout:            f.APITimeout,
		InsecureSkipVerify: f.Insecure,
	})
}

func addRemoteFlags(cmd *cobra.Command, f *RemoteFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://127.0.0.1:8400/api", "wrapper API URL")
	cmd.Flags().StringVar(&f.Token, "token", "", "API bearer token")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "accept self-signed API certificates")
}

func createStatusCommand(f *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the supervisor status of a running wrapper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx, cancel := context.WithTimeout(context.Background(), f.APITimeout)
			defer cancel()
			st, err := f.client().Status(ctx)
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}
	addRemoteFlags(cmd, f)
	return cmd
}

func createCmdCommand(f *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cmd <line>",
		Short: "Dispatch one console line through a running wrapper",
		Long: `Cmd sends a single console line to the wrapper, which routes it exactly
like local operator input, including ::stdin, ::rcon and ::shell prefixes.

Examples:
  gameward cmd "server.save"
  gameward cmd "::stdin quit"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if args[0] == "" {
				return errors.New("empty console line")
			}
			ctx, cancel := context.WithTimeout(context.Background(), f.APITimeout)
			defer cancel()
			reply, err := f.client().Command(ctx, args[0])
			if err != nil {
				return err
			}
			if reply != "" {
				fmt.Println(reply)
			}
			return nil
		},
	}
	addRemoteFlags(cmd, f)
	return cmd
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
