// Command chunknode runs one log indexing and search node: it accepts
// appended records, rolls sealed chunks to blob storage, serves fan-out
// queries across tracked chunks, and evicts uploaded chunks from local disk
// once they age out.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "chunknode",
		Short: "Log indexing and search engine node",
	}

	rootCmd.AddCommand(newRunCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
