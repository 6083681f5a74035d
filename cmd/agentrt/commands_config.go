package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentrt/internal/config"
)

// buildConfigCmd creates the "config" command group.
func buildConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd(opts))
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func buildConfigValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file against the schema and semantic rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if len(args) == 1 {
				path = args[0]
			}
			return runConfigValidate(cmd, resolveConfigPath(path))
		},
	}
}

func runConfigValidate(cmd *cobra.Command, path string) error {
	if path == "" {
		return fmt.Errorf("no configuration file found (pass a path, --config or AGENTRT_CONFIG)")
	}
	if err := config.ValidateFile(path); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("✗ "+path))
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✓ "+path+" is valid"))
	return nil
}
