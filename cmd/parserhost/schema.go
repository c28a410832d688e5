package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSchemaCmd(a *app) *cobra.Command {
	var pluginDirs []string

	cmd := &cobra.Command{
		Use:   "schema <format>",
		Short: "Print the JSON schema of a format's parse options",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry(cmd, pluginDirs)
			if err != nil {
				return err
			}
			schema, ok := reg.GetSchema(args[0])
			if !ok {
				return fmt.Errorf("format %q has no typed options", args[0])
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), schema)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&pluginDirs, "plugins", []string{defaultPluginDir}, "plugin directories to scan")
	return cmd
}
