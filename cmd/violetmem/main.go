package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "violetmem",
	Short: "Tweet memory store for persona bots",
	Long: `violetmem stores tweets with vector embeddings so a persona bot can
recall what it has seen, walk conversation threads, and avoid replying
to the same tweet twice.

The server keeps tweets in SQLite, embeds them through Ollama in the
background, and answers similarity queries over HTTP and MCP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(threadCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(interactedCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
