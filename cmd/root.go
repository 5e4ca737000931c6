package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	portFlag int

	// Package-level version info, set by Execute().
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "chatgrid",
	Short: "Token-budget-aware multi-session chat engine for local and hosted LLMs",
	Long: `chatgrid runs several concurrent conversations against local (Ollama)
and hosted (OpenAI, Anthropic) model backends, each bounded by its model's
context-token budget, with threshold warnings and summarization-based
compaction to continue past the limit.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chatgrid %s (commit %s, built %s)\n", appVersion, appCommit, appDate)
	},
}

// Execute runs the root command with version info injected from main.
func Execute(version, commit, date string) {
	appVersion, appCommit, appDate = version, commit, date
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/chatgrid/config.yaml)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
