package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the storage backends",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		verbose := mustFlagBool(cmd, "help-text", false)
		for _, metadata := range internal.GetBackendMetadata() {
			schemes := metadata.Scheme
			if len(metadata.Aliases) > 0 {
				schemes += ", " + strings.Join(metadata.Aliases, ", ")
			}
			fmt.Printf("%s %s\n", bold(metadata.Name), cyan("("+schemes+")"))
			if metadata.Description != "" {
				fmt.Printf("  %s\n", metadata.Description)
			}
			if metadata.ExampleURL != "" {
				fmt.Printf("  example: %s\n", metadata.ExampleURL)
			}
			if verbose && metadata.Help != "" {
				fmt.Println()
				for _, line := range strings.Split(strings.TrimSpace(metadata.Help), "\n") {
					fmt.Printf("    %s\n", line)
				}
			}
			fmt.Println()
		}
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the connection to the configured backend",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		logger := newLogger(cfg)
		if err := internal.TestBackend(context.Background(), logger, cfg.URL); err != nil {
			fmt.Printf("%s %s\n", red("✗"), err)
			os.Exit(1)
		}
		fmt.Printf("%s backend is reachable\n", green("✓"))
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
	backendsCmd.Flags().Bool("help-text", false, "print the detailed help of each backend")
	backendsCmd.AddCommand(testCmd)
}
