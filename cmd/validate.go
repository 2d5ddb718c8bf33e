package cmd

import (
	"fmt"
	"os"

	"github.com/shopmonkeyus/entitydb/internal/registry"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a schema file",
	Long:  "Validate a schema file, the file defaults to the configured schema. Use --format to print the schema in another format.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		logger := newLogger(cfg)
		fn := cfg.Schema
		if len(args) > 0 {
			fn = args[0]
		}
		if fn == "" {
			logger.Error("no schema file given")
			os.Exit(1)
		}
		schema, err := registry.NewFileRegistry(fn)
		if err != nil {
			logger.Error("%s", err)
			os.Exit(1)
		}
		if format := mustFlagString(cmd, "format", false); format != "" {
			if err := registry.Encode(os.Stdout, schema, registry.Format(format)); err != nil {
				logger.Error("%s", err)
				os.Exit(1)
			}
			return
		}
		fmt.Printf("%s %s is valid, %d entities\n", green("✓"), fn, len(schema.Entities()))
		for _, entity := range schema.Entities() {
			fmt.Printf("  %s (%s): %d fields, %d relations\n", entity.Name, entity.TableName(), len(entity.Fields), len(entity.Relations))
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().String("format", "", "print the schema as json, yaml or toml")
}
