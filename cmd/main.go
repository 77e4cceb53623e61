package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ledger",
		Short:         "Proof-of-stake ledger node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to the node config file")

	rootCmd.AddCommand(
		runCommand(&configPath),
		keygenCommand(&configPath),
		verifyCommand(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("ledger %s (%s)\n", Version, Commit)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
