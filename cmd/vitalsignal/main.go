package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "vitalsignal",
	Short: "Personalized disease-outbreak risk scoring",
	Long: `vitalsignal scores disease-outbreak alerts against user health profiles
and explains each user's personal risk.

Run "vitalsignal start" to launch the server; the other commands talk to it
over its local HTTP API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		switch outputFormat {
		case formatHuman, formatJSON, formatYAML:
			return nil
		default:
			return fmt.Errorf("unknown output format %q (want human, json or yaml)", outputFormat)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatHuman, "output format (human, json, yaml)")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(usersCmd, alertsCmd, personalizeCmd, feedbackCmd, assessmentsCmd, metricsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
