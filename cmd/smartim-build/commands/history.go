package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/litescript/smartim-build/internal/history"
)

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

var ErrInvalidOutput = errors.New("invalid output format")

// NewHistoryCmd returns the history command.
func NewHistoryCmd(arg *RootArgs) *cobra.Command {
	var (
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded release builds",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			switch output {
			case OutputTable, OutputJSON, OutputYAML:
			default:
				return fmt.Errorf("%w: %q", ErrInvalidOutput, output)
			}

			cfg, err := loadConfig(arg)
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.Path(cfg.History.Path))
			if err != nil {
				return err
			}
			defer store.Close()

			releases, err := store.List(cc.Context(), limit)
			if err != nil {
				return err
			}

			return writeReleases(cc.OutOrStdout(), output, releases)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of releases to list")
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "Output format (table, json, yaml)")

	return cmd
}

func writeReleases(w io.Writer, output string, releases []history.Release) error {
	if releases == nil {
		releases = []history.Release{}
	}

	switch output {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(releases)

	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(releases); err != nil {
			return err
		}
		return enc.Close()
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Created", "Plugin", "Version", "Signed", "Size", "SHA-256", "Artifact"})
	for _, r := range releases {
		t.AppendRow(table.Row{
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.PluginID,
			r.Version,
			strconv.FormatBool(r.Signed),
			humanSize(r.Size),
			shortDigest(r.SHA256),
			r.Artifact,
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func shortDigest(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
