package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootFlags struct {
	envFile string
}

var rootCmd = &cobra.Command{
	Use:          "docustitch",
	Short:        "Generate a Colab script that turns a documentation site into one PDF.",
	Version:      version,
	SilenceUsage: true,
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.envFile, "env-file", ".env", "Optional file of KEY=value settings loaded before the environment is read")
	rootCmd.AddCommand(serveCmd, generateCmd)
}
