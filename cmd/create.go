package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopmonkeyus/entitydb/internal/service"
	"github.com/spf13/cobra"
)

// decodeJSON decodes a json flag value, numbers are kept as json.Number.
func decodeJSON(val string, v any) error {
	dec := json.NewDecoder(strings.NewReader(val))
	dec.UseNumber()
	return dec.Decode(v)
}

func mustFlagObject(cmd *cobra.Command, name string) map[string]any {
	val := mustFlagString(cmd, name, false)
	if val == "" {
		return nil
	}
	var obj map[string]any
	if err := decodeJSON(val, &obj); err != nil {
		fmt.Printf("error: --%s is not a JSON object: %s\n", name, err)
		os.Exit(1)
	}
	return obj
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var createCmd = &cobra.Command{
	Use:   "create [entity]",
	Short: "Create an entity together with its nested relations",
	Example: `entitydb create User --data '{"email":"u1@test.com","posts":{"create":[{"title":"Post1"}]}}' --include '{"posts":true}'
entitydb create User --data '{"email":"u2@test.com"}' --select '{"id":true}'`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := mustLoadConfig()
		logger := newLogger(cfg)
		createArgs := service.CreateArgs{
			Data:    mustFlagObject(cmd, "data"),
			Select:  mustFlagObject(cmd, "select"),
			Include: mustFlagObject(cmd, "include"),
		}
		if createArgs.Data == nil {
			createArgs.Data = map[string]any{}
		}

		svc, backend, err := newService(ctx, logger, cfg)
		if err != nil {
			logger.Error("%s", err)
			os.Exit(1)
		}
		result, err := svc.Create(ctx, args[0], createArgs)
		backend.Stop()
		if err != nil {
			logger.Error("error creating %s: %s", args[0], err)
			os.Exit(1)
		}
		if err := printJSON(result); err != nil {
			logger.Error("error printing result: %s", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().String("data", "", "the JSON object to create")
	createCmd.Flags().String("select", "", "the JSON select object")
	createCmd.Flags().String("include", "", "the JSON include object")
}
