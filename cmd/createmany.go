package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/shopmonkeyus/entitydb/internal/service"
	"github.com/shopmonkeyus/entitydb/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/spf13/cobra"
)

// readRows reads the rows from the new line delimited json file.
func readRows(logger logger.Logger, fn string) ([]map[string]any, error) {
	dec, err := util.NewNDJSONDecoder(fn)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	var rows []map[string]any
	for dec.More() {
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("error decoding row %d of %s: %w", dec.Count()+1, fn, err)
		}
		rows = append(rows, row)
	}
	logger.Debug("read %d rows from %s", dec.Count(), fn)
	return rows, nil
}

var createManyCmd = &cobra.Command{
	Use:   "create-many [entity]",
	Short: "Create many entities in a single transaction",
	Example: `entitydb create-many User --data '[{"email":"u4@test.com"},{"email":"u5@test.com"}]'
entitydb create-many User --file users.json.gz --skip-duplicates --return`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := mustLoadConfig()
		logger := newLogger(cfg)
		data := mustFlagString(cmd, "data", false)
		file := mustFlagString(cmd, "file", false)
		returnRows := mustFlagBool(cmd, "return", false)

		manyArgs := service.CreateManyArgs{
			SkipDuplicates: mustFlagBool(cmd, "skip-duplicates", false),
			Select:         mustFlagObject(cmd, "select"),
		}
		switch {
		case data != "" && file != "":
			logger.Error("--data and --file cannot be combined")
			os.Exit(1)
		case file != "":
			rows, err := readRows(logger, file)
			if err != nil {
				logger.Error("%s", err)
				os.Exit(1)
			}
			manyArgs.Data = rows
		case data != "":
			if err := decodeJSON(data, &manyArgs.Data); err != nil {
				logger.Error("--data is not a JSON array of objects: %s", err)
				os.Exit(1)
			}
		default:
			logger.Error("one of --data or --file is required")
			os.Exit(1)
		}

		svc, backend, err := newService(ctx, logger, cfg)
		if err != nil {
			logger.Error("%s", err)
			os.Exit(1)
		}

		var result any
		task := func() {
			if returnRows {
				result, err = svc.CreateManyAndReturn(ctx, args[0], manyArgs)
			} else {
				result, err = svc.CreateMany(ctx, args[0], manyArgs)
			}
		}
		if file != "" && !cfg.Silent {
			util.RunTaskWithSpinner(fmt.Sprintf("Creating %d %s rows...", len(manyArgs.Data), args[0]), task)
		} else {
			task()
		}
		backend.Stop()
		if err != nil {
			logger.Error("error creating %s rows: %s", args[0], err)
			os.Exit(1)
		}
		if err := printJSON(result); err != nil {
			logger.Error("error printing result: %s", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(createManyCmd)
	createManyCmd.Flags().String("data", "", "the JSON array of objects to create")
	createManyCmd.Flags().String("file", "", "a new line delimited JSON file (optionally gzipped) of objects to create")
	createManyCmd.Flags().Bool("skip-duplicates", false, "skip rows which violate a unique constraint")
	createManyCmd.Flags().Bool("return", false, "return the created rows instead of the count")
	createManyCmd.Flags().String("select", "", "the JSON select object, requires --return")
}
