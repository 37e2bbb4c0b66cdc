package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chatrelay/internal/config"
)

const defaultEnvFile = ".env"

// NewRootCommand builds the chatrelay command tree. Settings resolve from
// flags first, then the environment.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "Relay chat requests to hosted and local LLM providers",
		Long: `chatrelay serves a chat frontend over HTTP and forwards each message to
the configured LLM provider, returning the reply whole or as a stream.

Providers are enabled by their credential variables (OPENAI_API_KEY,
ANTHROPIC_API_KEY, OLLAMA_HOST) and models are declared in MODELS.

Examples:
  chatrelay serve --port 8000
  chatrelay models -o yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(v.GetString("env_file"), cmd.Flags().Changed("env-file"))
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to YAML server configuration (env CHATRELAY_CONFIG)")
	flags.String("env-file", defaultEnvFile, "dotenv file to load before reading the environment")
	flags.Bool("debug", false, "verbose logging and configuration details in 503 responses (env DEBUG)")

	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("env_file", flags.Lookup("env-file"))
	_ = v.BindPFlag("debug", flags.Lookup("debug"))
	_ = v.BindEnv("config", "CHATRELAY_CONFIG")
	_ = v.BindEnv("debug", "DEBUG")

	root.AddCommand(newServeCommand(v), newModelsCommand(v))
	return root
}

// Execute runs the command tree with args until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the server file named by the config setting and applies
// the debug override.
func loadConfig(v *viper.Viper) (config.Config, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return config.Config{}, err
	}
	if v.GetBool("debug") {
		cfg.Server.Debug = true
	}
	return cfg, nil
}
