package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/config"
	_ "github.com/shopmonkeyus/entitydb/internal/drivers"
	"github.com/shopmonkeyus/entitydb/internal/registry"
	"github.com/shopmonkeyus/entitydb/internal/service"
	"github.com/shopmonkeyus/entitydb/internal/util"
	"github.com/shopmonkeyus/entitydb/schema"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version string // set in main

var cfgFile string

func mustFlagBool(cmd *cobra.Command, name string, required bool) bool {
	val, err := cmd.Flags().GetBool(name)
	if required && err != nil {
		fmt.Printf("error: %s\n", err)
		os.Exit(1)
	}
	return val
}

func mustFlagString(cmd *cobra.Command, name string, required bool) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		fmt.Printf("error: %s\n", err)
		os.Exit(1)
	}
	if required && val == "" {
		fmt.Printf("error: required flag --%s missing\n", name)
		os.Exit(1)
	}
	return val
}

func mustLoadConfig() *config.Config {
	if err := config.Init(viper.GetViper(), cfgFile); err != nil {
		fmt.Printf("error: %s\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		fmt.Printf("error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

func newLogger(cfg *config.Config) logger.Logger {
	level := logger.LevelInfo
	if cfg.Verbose {
		level = logger.LevelTrace
	} else if cfg.Silent {
		level = logger.LevelError
	}
	return logger.NewConsoleLogger(level)
}

// loadSchema loads the configured schema file or the demo schema when none is configured.
func loadSchema(log logger.Logger, cfg *config.Config) (*internal.Schema, error) {
	if cfg.Schema == "" {
		log.Debug("no schema configured, using the demo schema")
		return schema.Demo()
	}
	return registry.NewFileRegistry(cfg.Schema)
}

// newService starts the configured backend and returns the service using it. The caller must stop the backend.
func newService(ctx context.Context, log logger.Logger, cfg *config.Config) (*service.Service, internal.Backend, error) {
	entities, err := loadSchema(log, cfg)
	if err != nil {
		return nil, nil, err
	}
	masked, err := util.MaskURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	log.Debug("starting backend %s", masked)
	backend, err := internal.NewBackend(ctx, log, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("error starting backend %s: %w", masked, err)
	}
	return service.New(service.Config{
		Registry:     entities,
		Backend:      backend,
		Logger:       log,
		MaxBatchRows: cfg.MaxBatchRows,
	}), backend, nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "entitydb",
	Short: "Create entities and their relations in a single transaction",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./entitydb.yaml)")
	rootCmd.PersistentFlags().String("url", config.DefaultURL, "the backend url")
	rootCmd.PersistentFlags().String("schema", "", "the schema file (json, yaml or toml), defaults to the demo schema")
	rootCmd.PersistentFlags().Int("max-batch-rows", 0, "the number of rows sent per batch statement")
	rootCmd.PersistentFlags().Bool("verbose", false, "turn on verbose logging")
	rootCmd.PersistentFlags().Bool("silent", false, "turn off all logging except errors")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	viper.BindPFlag("schema", rootCmd.PersistentFlags().Lookup("schema"))
	viper.BindPFlag("max_batch_rows", rootCmd.PersistentFlags().Lookup("max-batch-rows"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("silent", rootCmd.PersistentFlags().Lookup("silent"))
}
