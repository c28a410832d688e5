package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/logweave/parserhost/domain/entities"
)

func newFormatsCmd(a *app) *cobra.Command {
	var (
		pluginDirs []string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List the formats provided by discovered plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.loadRegistry(cmd, pluginDirs)
			if err != nil {
				return err
			}
			return writeFormats(cmd.OutOrStdout(), reg.Formats(), output)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&pluginDirs, "plugins", []string{defaultPluginDir}, "plugin directories to scan")
	flags.StringVarP(&output, "output", "o", "table", "output format: table or json")
	return cmd
}

func writeFormats(w io.Writer, formats []entities.PluginDescriptor, output string) error {
	switch strings.ToLower(output) {
	case "", "table":
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetStyle(table.StyleRounded)
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 3, Align: text.AlignRight},
			{Number: 4, Align: text.AlignRight},
			{Number: 6, WidthMax: 60},
		})
		tw.AppendHeader(table.Row{"Format", "Model", "ABI", "Options", "Capabilities", "Description"})
		for _, d := range formats {
			caps := strings.Join(d.Capabilities.Strings(), ", ")
			if caps == "" {
				caps = "-"
			}
			tw.AppendRow(table.Row{d.FormatID, string(d.Model), d.ABIVersion, d.OptionsSchemaVersion, caps, d.Description})
		}
		if len(formats) == 0 {
			tw.AppendRow(table.Row{"(no plugins)", "-", "-", "-", "-", "-"})
		}
		_ = tw.Render()
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(formats)
	default:
		return fmt.Errorf("unsupported output format: %s", output)
	}
}
