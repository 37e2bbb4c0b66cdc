package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chatrelay/internal/catalog"
	"chatrelay/internal/llmerr"
	"chatrelay/internal/logging"
	"chatrelay/internal/models"
	providerfactory "chatrelay/internal/provider/factory"
	"chatrelay/internal/router"
	"chatrelay/internal/server"
	"chatrelay/internal/storage"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. A model configuration problem does not stop the
server: chat and model endpoints answer 503 until the environment is fixed
and the process restarted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, v)
		},
	}

	cmd.Flags().Int("port", 0, "override server port (env PORT)")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = v.BindEnv("port", "PORT")

	return cmd
}

func serve(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	if port := v.GetInt("port"); port != 0 {
		if port < 0 || port > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", port)
		}
		cfg.Server.Port = port
	}

	logger := logging.New(os.Stderr, cfg.Server.Debug)
	slog.SetDefault(logger)

	registry, err := providerfactory.NewRegistry(cfg, models.EnvLookup)
	if err != nil {
		return err
	}

	deps := server.Deps{Logger: logger, Banner: cmd.OutOrStdout()}
	cat, err := catalog.Load(registry.Descriptors(), models.EnvLookup)
	if err != nil {
		logger.Error("model configuration failed", "error", llmerr.RedactError(err))
		deps.ConfigErr = err
	} else {
		deps.Catalog = cat
		deps.Router = router.New(cat, registry, router.WithLogger(logger))
		logger.Info("models loaded", "count", len(cat.Models()), "default", cat.Default().ID)
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	deps.Store = store

	srv, err := server.New(cfg, deps)
	if err != nil {
		return err
	}
	return srv.Run(cmd.Context())
}
