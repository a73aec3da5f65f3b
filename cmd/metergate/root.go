package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

const checkMark = "\033[32m✓\033[0m"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "metergate",
	Short: "Usage metering and quota enforcement service",
	Long: `Metergate is a self-hosted usage metering and quota enforcement core.

It ingests signed usage events exactly once, keeps per-user monthly
counters, and makes atomic allow/deny decisions against plan quotas.

Quick start:
  metergate migrate   # Create the database schema
  metergate serve     # Start the HTTP server

Management:
  metergate users     # Manage users
  metergate keys      # Manage API keys
  metergate plans     # Show the plan table`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "metergate.yaml", "config file path")
}

func confirm(message string) bool {
	fmt.Printf("%s [y/N]: ", message)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
