package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor bool
	asUser  string
)

var rootCmd = &cobra.Command{
	Use:           "nodebench",
	Short:         "Research workspace with multi-agent answers, plans and entity research",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable coloured output")
	rootCmd.PersistentFlags().StringVar(&asUser, "user", "", "act as this workspace user (X-User-ID)")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(configCmd, docsCmd, askCmd, planCmd, entityCmd)
	rootCmd.AddCommand(billingCmd, analyticsCmd, gmailCmd, cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		fmt.Fprintln(os.Stderr)
		os.Exit(1)
	}
}
