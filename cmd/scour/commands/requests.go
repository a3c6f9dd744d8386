package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scourlab/scour/internal/config"
	"github.com/scourlab/scour/internal/ledger"
)

// Output formats accepted by the requests command.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

const (
	defaultRequestsLimit = 20
	maxRequestsLimit     = 100

	topicColumnWidth = 48
)

// ErrUnknownOutputFormat indicates a --format value outside table, json,
// or yaml.
var ErrUnknownOutputFormat = errors.New("unknown output format")

// requestRow is the presentation shape shared by the json and yaml
// outputs. Timestamps are RFC 3339 strings so the output is stable
// across machines and shells.
type requestRow struct {
	ID          string `json:"id"                     yaml:"id"`
	Topic       string `json:"topic"                  yaml:"topic"`
	Status      string `json:"status"                 yaml:"status"`
	CreatedAt   string `json:"created_at"             yaml:"created_at"`
	CompletedAt string `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"        yaml:"error,omitempty"`
}

// requestsDocument wraps the rows for structured output.
type requestsDocument struct {
	Requests []requestRow `json:"requests" yaml:"requests"`
	Total    int64        `json:"total"    yaml:"total"`
}

// NewRequestsCommand creates the request listing command.
func NewRequestsCommand() *cobra.Command {
	var (
		configPath string
		status     string
		limit      int
		offset     int
		format     string
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List recent requests",
		Long: `List recent requests from the ledger, newest first. Filter with
--status (e.g. --status processing_search to find requests stranded by a
dead worker, or --status failed to review errors).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := resolveStatusFilter(status)
			if err != nil {
				return err
			}

			if err := validateOutputFormat(format); err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			store, err := ledger.Open(ctx, cfg.Ledger.URL, cfg.Ledger.MaxOpenConns, cfg.Ledger.MaxIdleConns)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rows, err := store.ListRequests(ctx, filter, clampRequestsLimit(limit), maxInt(offset, 0))
			if err != nil {
				return err
			}

			total, err := store.TotalRequests(ctx, filter)
			if err != nil {
				return err
			}

			return writeRequests(cmd.OutOrStdout(), rows, total, format, noColor)
		},
	}

	cmd.Flags().StringVar(&status, "status", "all", "filter by lifecycle status (all disables the filter)")
	cmd.Flags().IntVar(&limit, "limit", defaultRequestsLimit, "maximum rows to list (capped at 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format: table, json, yaml")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored status output")
	cmd.Flags().StringVar(&configPath, "config", "", configFlagUsage)

	return cmd
}

// resolveStatusFilter maps the --status flag to an optional ledger filter.
// "all" and the empty string disable filtering.
func resolveStatusFilter(raw string) (*ledger.Status, error) {
	if raw == "" || raw == "all" {
		return nil, nil
	}

	status, err := ledger.ParseStatus(raw)
	if err != nil {
		return nil, err
	}

	return &status, nil
}

func validateOutputFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("%w: %q (expected table, json, or yaml)", ErrUnknownOutputFormat, format)
	}
}

func clampRequestsLimit(limit int) int {
	if limit < 1 {
		return defaultRequestsLimit
	}

	if limit > maxRequestsLimit {
		return maxRequestsLimit
	}

	return limit
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}

// writeRequests renders the listing in the requested format.
func writeRequests(w io.Writer, rows []ledger.Request, total int64, format string, noColor bool) error {
	switch format {
	case formatJSON:
		return writeRequestsJSON(w, rows, total)
	case formatYAML:
		return writeRequestsYAML(w, rows, total)
	default:
		writeRequestsTable(w, rows, total, noColor)

		return nil
	}
}

func writeRequestsTable(w io.Writer, rows []ledger.Request, total int64, noColor bool) {
	if noColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Name: "TOPIC", WidthMax: topicColumnWidth},
	})

	tbl.AppendHeader(table.Row{"ID", "TOPIC", "STATUS", "AGE", "COMPLETED", "ERROR"})

	for _, row := range rows {
		completed := ""
		if row.CompletedAt != nil {
			completed = humanize.Time(*row.CompletedAt)
		}

		errMsg := ""
		if row.ErrorMessage != nil {
			errMsg = *row.ErrorMessage
		}

		tbl.AppendRow(table.Row{
			row.ID.String(),
			row.Topic,
			colorizeStatus(row.Status),
			humanize.Time(row.CreatedAt),
			completed,
			errMsg,
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d requests", total)})

	fmt.Fprintln(w, tbl.Render())
}

// colorizeStatus maps the lifecycle states onto terminal colors: green
// for done, red for failed, yellow for the worker-owned processing
// states an operator may need to recover.
func colorizeStatus(status ledger.Status) string {
	switch status {
	case ledger.StatusCompleted:
		return color.New(color.FgGreen).Sprint(string(status))
	case ledger.StatusFailed:
		return color.New(color.FgRed).Sprint(string(status))
	case ledger.StatusProcessingSearch, ledger.StatusProcessingAnalysis:
		return color.New(color.FgYellow).Sprint(string(status))
	default:
		return color.New(color.FgCyan).Sprint(string(status))
	}
}

func writeRequestsJSON(w io.Writer, rows []ledger.Request, total int64) error {
	data, err := json.MarshalIndent(buildRequestsDocument(rows, total), "", "  ")
	if err != nil {
		return fmt.Errorf("encode requests json: %w", err)
	}

	fmt.Fprintln(w, string(data))

	return nil
}

func writeRequestsYAML(w io.Writer, rows []ledger.Request, total int64) error {
	data, err := yaml.Marshal(buildRequestsDocument(rows, total))
	if err != nil {
		return fmt.Errorf("encode requests yaml: %w", err)
	}

	fmt.Fprint(w, string(data))

	return nil
}

func buildRequestsDocument(rows []ledger.Request, total int64) requestsDocument {
	doc := requestsDocument{Requests: make([]requestRow, 0, len(rows)), Total: total}

	for _, row := range rows {
		item := requestRow{
			ID:        row.ID.String(),
			Topic:     row.Topic,
			Status:    string(row.Status),
			CreatedAt: row.CreatedAt.Format(time.RFC3339),
		}

		if row.CompletedAt != nil {
			item.CompletedAt = row.CompletedAt.Format(time.RFC3339)
		}

		if row.ErrorMessage != nil {
			item.Error = *row.ErrorMessage
		}

		doc.Requests = append(doc.Requests, item)
	}

	return doc
}
