package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/shopmonkeyus/entitydb/internal/api"
	"github.com/shopmonkeyus/entitydb/internal/config"
	"github.com/shopmonkeyus/entitydb/internal/util"
	"github.com/shopmonkeyus/go-common/sys"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP server",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		serverStarted := time.Now()
		cfg := mustLoadConfig()
		logger := newLogger(cfg)

		svc, backend, err := newService(context.Background(), logger, cfg)
		if err != nil {
			logger.Error("%s", err)
			os.Exit(1)
		}

		srv := &http.Server{
			Addr:              cfg.Address(),
			Handler:           api.New(logger, svc).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(context.Background())
		g.Go(func() error {
			defer util.RecoverPanic(logger)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			// wait for shutdown or a failed listener
			select {
			case <-ctx.Done():
			case <-sys.CreateShutdownChannel():
			}
			logger.Debug("server is stopping")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		logger.Info("server is running version: %v on %s", Version, cfg.Address())

		exitCode := 0
		if err := g.Wait(); err != nil {
			logger.Error("server error: %s", err)
			exitCode = 1
		}
		if err := backend.Stop(); err != nil {
			logger.Warn("error stopping backend: %s", err)
		}

		logger.Trace("server was up for %v", time.Since(serverStarted))
		logger.Info("👋 Bye")
		os.Exit(exitCode)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().String("host", config.DefaultHost, "the host to listen on")
	serverCmd.Flags().Int("port", config.DefaultPort, "the port to listen on")
	viper.BindPFlag("server.host", serverCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serverCmd.Flags().Lookup("port"))
}
