package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stakemetrics/query-cost-api/internal/cost"
	"github.com/stakemetrics/query-cost-api/internal/explain"
)

// outputFormat selects how an estimate is rendered.
type outputFormat int

const (
	formatTable outputFormat = iota
	formatJSON
)

func parseFormat(s string) (outputFormat, error) {
	switch strings.ToLower(s) {
	case "table":
		return formatTable, nil
	case "json":
		return formatJSON, nil
	}
	return 0, fmt.Errorf("unknown format %q: use \"table\" or \"json\"", s)
}

// estimateOutput is the JSON rendering of an estimate. It matches the shape
// of the HTTP /estimate response minus the stored-record id, since the CLI
// persists nothing.
type estimateOutput struct {
	TotalCost   int64                `json:"totalCost"`
	Fields      []string             `json:"fields"`
	Entries     []cost.FieldCost     `json:"entries"`
	Explanation *explain.Explanation `json:"explanation,omitempty"`
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "querycost",
		Short: "Estimate the credit cost of GraphQL queries",
	}
	root.AddCommand(newEstimateCmd())
	return root
}

// newEstimateCmd returns the `estimate` subcommand. The query comes from the
// positional argument, from --file, or from stdin when the argument is "-".
func newEstimateCmd() *cobra.Command {
	var (
		file        string
		format      string
		showExplain bool
		maxDepth    int
	)
	cmd := &cobra.Command{
		Use:   "estimate [query]",
		Short: "Price a GraphQL query without executing it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := parseFormat(format)
			if err != nil {
				return err
			}
			query, err := readQuery(cmd, args, file)
			if err != nil {
				return err
			}
			report, err := cost.Estimator{MaxDepth: maxDepth}.Estimate(query)
			if err != nil {
				return err
			}
			if out == formatJSON {
				return writeJSON(cmd.OutOrStdout(), report, showExplain)
			}
			return writeTable(cmd.OutOrStdout(), report, showExplain)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the query from a file instead of the argument")
	cmd.Flags().StringVar(&format, "format", "table", `Output format: "table" or "json"`)
	cmd.Flags().BoolVar(&showExplain, "explain", false, "Include the per-field cost explanation")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Maximum selection depth (0 uses the default, negative disables the check)")
	return cmd
}

// readQuery resolves the query text from the flag, argument, or stdin.
func readQuery(cmd *cobra.Command, args []string, file string) (string, error) {
	if file != "" {
		if len(args) > 0 {
			return "", fmt.Errorf("cannot combine a query argument with --file")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		return queryText(string(data))
	}
	if len(args) == 0 {
		return "", fmt.Errorf("no query given: pass it as an argument, with --file, or as \"-\" to read stdin")
	}
	if args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return queryText(string(data))
	}
	return queryText(args[0])
}

func queryText(raw string) (string, error) {
	query := strings.TrimSpace(raw)
	if query == "" {
		return "", fmt.Errorf("query must not be empty")
	}
	return query, nil
}

func writeJSON(w io.Writer, report cost.Report, showExplain bool) error {
	out := estimateOutput{
		TotalCost: report.TotalCost,
		Fields:    report.Fields,
		Entries:   report.Entries,
	}
	if showExplain {
		e := explain.Breakdown(report)
		out.Explanation = &e
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// writeTable renders the per-field charges and the totals arithmetic.
// With showExplain the maximum-credits disclaimer is appended.
func writeTable(w io.Writer, report cost.Report, showExplain bool) error {
	breakdown := explain.Breakdown(report)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tCHARGE\tCREDITS")
	for _, row := range breakdown.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Field, row.Charge, row.Credits)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	for _, line := range breakdown.Formula {
		fmt.Fprintln(w, line)
	}
	if showExplain {
		fmt.Fprintln(w)
		fmt.Fprintln(w, breakdown.Note)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
