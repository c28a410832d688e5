package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/logweave/parserhost/application/dispatcher"
	"github.com/logweave/parserhost/application/validation"
	"github.com/logweave/parserhost/domain/entities"
	"github.com/logweave/parserhost/host"
	"github.com/logweave/parserhost/wireformat"
)

type parseFlags struct {
	format      string
	options     string
	output      string
	pluginDirs  []string
	readPaths   []string
	timeout     time.Duration
	memoryPages uint32
	chunkSize   int
}

func newParseCmd(a *app) *cobra.Command {
	var f parseFlags

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a log file with a plugin and print its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runParse(cmd, f, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&f.pluginDirs, "plugins", []string{defaultPluginDir}, "plugin directories to scan")
	flags.StringVarP(&f.format, "format", "f", "", "format identifier of the plugin to use")
	flags.StringVar(&f.options, "options", "{}", "parse options as JSON")
	flags.StringVarP(&f.output, "output", "o", "table", "output format: table or jsonl")
	flags.StringSliceVar(&f.readPaths, "allow-read", nil, "extra paths a reactor plugin may read")
	flags.DurationVar(&f.timeout, "timeout", 0, "per-call execution budget (0 keeps the default)")
	flags.Uint32Var(&f.memoryPages, "memory-pages", 0, "guest memory ceiling in 64 KiB pages (0 keeps the default)")
	flags.IntVar(&f.chunkSize, "chunk-size", dispatcher.DefaultDrainChunkSize, "bytes read from the file per call")
	_ = cmd.MarkFlagRequired("format")
	return cmd
}

func (a *app) runParse(cmd *cobra.Command, f parseFlags, path string) error {
	ctx := cmd.Context()
	out := newEntryWriter(cmd.OutOrStdout(), f.output)
	if out == nil {
		return fmt.Errorf("unsupported output format: %s", f.output)
	}

	reg, err := a.loadRegistry(cmd, f.pluginDirs)
	if err != nil {
		return err
	}
	desc, err := reg.Resolve(f.format)
	if err != nil {
		return err
	}

	runtimeOpts := []host.Option{host.WithLogger(a.logger)}
	if f.timeout > 0 {
		runtimeOpts = append(runtimeOpts, host.WithInvokeTimeout(f.timeout))
	}
	if f.memoryPages > 0 {
		runtimeOpts = append(runtimeOpts, host.WithMemoryLimitPages(f.memoryPages))
	}
	rt, err := host.NewRuntime(runtimeOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	d, err := dispatcher.New(reg, host.NewLoader(rt),
		dispatcher.WithLogger(a.logger),
		dispatcher.WithHostConfig(rt.Config()),
		dispatcher.WithOptionsValidator(validation.NewOptionsValidator(reg)),
		dispatcher.WithDrainChunkSize(f.chunkSize),
	)
	if err != nil {
		return err
	}
	defer func() { _ = d.Shutdown(ctx) }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	file, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer file.Close()

	opts := wireformat.EncodeOptions(desc.OptionsSchemaVersion, []byte(f.options))
	id, err := d.OpenSource(ctx, desc.FormatID, opts,
		dispatcher.WithSourceKey(abs),
		dispatcher.WithReadPaths(f.readPaths...),
	)
	if err != nil {
		return err
	}

	drainErr := d.Drain(ctx, id, file, out.write)
	if err := out.flush(); err != nil {
		return err
	}
	if drainErr != nil {
		return drainErr
	}

	stats, err := d.Stats(id)
	if err != nil {
		return err
	}
	a.logger.Info("parse finished",
		"file", abs,
		"format", desc.FormatID,
		"entries", stats.EntriesParsed,
		"bytes_consumed", stats.BytesConsumed,
		"plugin_calls", stats.PluginCalls,
	)
	return nil
}

// entryWriter renders parse results either as one table at the end or as
// JSON lines while streaming.
type entryWriter struct {
	w     io.Writer
	enc   *json.Encoder
	table table.Writer
	n     int
}

type jsonEntry struct {
	Time    *time.Time `json:"time,omitempty"`
	Level   string     `json:"level,omitempty"`
	Tag     string     `json:"tag,omitempty"`
	Message string     `json:"message"`
	Binary  bool       `json:"binary,omitempty"`
}

func newEntryWriter(w io.Writer, output string) *entryWriter {
	switch strings.ToLower(output) {
	case "", "table":
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetStyle(table.StyleLight)
		tw.AppendHeader(table.Row{"#", "Time", "Level", "Tag", "Message"})
		return &entryWriter{w: w, table: tw}
	case "jsonl":
		return &entryWriter{w: w, enc: json.NewEncoder(w)}
	default:
		return nil
	}
}

func (e *entryWriter) write(res entities.ParseResult) error {
	for _, entry := range res.Entries {
		e.n++
		msg := entry.Text()
		if entry.Binary {
			msg = fmt.Sprintf("%x", entry.Payload)
		}
		level := ""
		if entry.Level != entities.SeverityUnset {
			level = entry.Level.String()
		}

		if e.enc != nil {
			je := jsonEntry{Level: level, Tag: entry.SourceTag, Message: msg, Binary: entry.Binary}
			if entry.HasTimestamp {
				ts := time.Unix(0, int64(entry.Timestamp)).UTC() //nolint:gosec // G115: unix nanos fit int64
				je.Time = &ts
			}
			if err := e.enc.Encode(je); err != nil {
				return err
			}
			continue
		}

		ts := "-"
		if entry.HasTimestamp {
			ts = time.Unix(0, int64(entry.Timestamp)).UTC().Format(time.RFC3339Nano) //nolint:gosec // G115: unix nanos fit int64
		}
		e.table.AppendRow(table.Row{e.n, ts, level, entry.SourceTag, msg})
	}
	return nil
}

func (e *entryWriter) flush() error {
	if e.table == nil {
		return nil
	}
	if e.n == 0 {
		_, err := fmt.Fprintln(e.w, "(no entries)")
		return err
	}
	_ = e.table.Render()
	return nil
}
