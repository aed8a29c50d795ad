package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds the global flags.
type rootOptions struct {
	Config  string
	Verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "strixprobe",
		Short: "Probe a server with the strixlink connection engine",
		Long: `strixprobe opens a strixlink session, over a socket or the BlueBox HTTP
tunnel, and lets you exchange raw frames from the terminal.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "TOML configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging and wire traces")

	cmd.AddCommand(newConnectCommand(opts))
	return cmd
}
