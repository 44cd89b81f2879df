package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "tb-pipeline",
		Short: "Tiny Backspace - prompt-to-PR pipeline",
		Long: `Tiny Backspace turns a natural-language change request and a GitHub
repository into a pull request. It provisions an ephemeral sandbox,
clones the repository, runs a coding agent against the prompt, commits
what changed and publishes the branch as a PR.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
