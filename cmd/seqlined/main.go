// Command seqlined runs the seqline TCP server.
//
//	seqlined [port]
//
// With no port it listens on 4567, or on the address from seqline.yaml.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/seqline/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd, opts := buildRootCmd()
	if err := cmd.Execute(); err != nil {
		errors.PrintError(err, opts.jsonErrors())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd, _ := buildRootCmd()
	return cmd
}

func buildRootCmd() (*cobra.Command, *serveOptions) {
	opts := &serveOptions{}

	rootCmd := &cobra.Command{
		Use:   "seqlined [port]",
		Short: "Sequenced word responder over TCP",
		Long: `seqlined accepts plain TCP connections, reads a word from each chunk a
client sends and answers with the transformed word and a global sequence
number:

  hello      ->  olleh 0
  world 40   ->  dlrow 40
  again      ->  niaga 41

A chunk containing byte 0x04 (EOT) closes the connection.

Examples:
  seqlined
  seqlined 9000
  seqlined --transform=identity --admin-addr=:9100`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				port, err := parsePort(args[0])
				if err != nil {
					return err
				}
				opts.port = port
				opts.portSet = true
			}
			return runServe(cmd.Context(), cmd, opts)
		},
	}

	opts.bindFlags(rootCmd)

	rootCmd.AddCommand(
		configCmd(),
		versionCmd(),
	)
	return rootCmd, opts
}
