package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"chatrelay/internal/catalog"
	"chatrelay/internal/models"
	providerfactory "chatrelay/internal/provider/factory"
)

type modelsOutput struct {
	Default   string                      `json:"default" yaml:"default"`
	Providers []models.ProviderDescriptor `json:"providers" yaml:"providers"`
	Models    []models.ModelDescriptor    `json:"models" yaml:"models"`
}

func newModelsCommand(v *viper.Viper) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Show the models resolved from the environment",
		Long: `Resolve the model catalog exactly as the server would and print it.
Configuration errors are printed with a hint on how to fix them.`,
		Example: `  chatrelay models
  chatrelay models -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			registry, err := providerfactory.NewRegistry(cfg, models.EnvLookup)
			if err != nil {
				return err
			}

			cat, err := catalog.Load(registry.Descriptors(), models.EnvLookup)
			if err != nil {
				printConfigError(cmd.ErrOrStderr(), err)
				return err
			}

			out := modelsOutput{
				Default:   cat.Default().ID,
				Providers: cat.Providers(),
				Models:    cat.Models(),
			}
			return writeModels(cmd.OutOrStdout(), format, out)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format (table, json, yaml)")
	return cmd
}

func writeModels(w io.Writer, format string, out modelsOutput) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		return writeModelsTable(w, out)
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func writeModelsTable(w io.Writer, out modelsOutput) error {
	marker := color.New(color.FgGreen, color.Bold)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPROVIDER\tDEFAULT")
	for _, m := range out.Models {
		def := ""
		if m.Default {
			def = marker.Sprint("*")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Provider, def)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	ids := make([]string, 0, len(out.Providers))
	for _, p := range out.Providers {
		ids = append(ids, p.ID)
	}
	_, err := fmt.Fprintf(w, "\nEnabled providers: %s\n", strings.Join(ids, ", "))
	return err
}

func printConfigError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	var cfgErr *catalog.ConfigurationError
	if !errors.As(err, &cfgErr) {
		red.Fprintf(w, "error: %v\n", err)
		return
	}
	red.Fprintf(w, "%s\n", cfgErr.Error())
	if cfgErr.Hint != "" {
		yellow.Fprintf(w, "hint: %s\n", cfgErr.Hint)
	}
}
