package main

import (
	"fmt"
	"os"

	"github.com/conclave-ai/conclave/internal/config"
	"github.com/spf13/cobra"
)

// buildConfigCmd creates the "config" command group: schema-backed
// validation and schema export.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and inspect configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file twice over: structurally against the
generated JSON schema (catches typoed keys and wrong types with a precise
path), then semantically (cross-field rules, enum values).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(configFlag)

			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := config.ValidateDocument(raw); err != nil {
				return err
			}
			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
			return nil
		},
	}
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
