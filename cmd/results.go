package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/starmark/internal/crawler"
)

type resultsOptions struct {
	status string
	typ    string
	asJSON bool
}

func newResultsCmd() *cobra.Command {
	var opts resultsOptions
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List stored crawl results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			all, err := appInstance.ListResults(cmd.Context())
			if err != nil {
				return fmt.Errorf("list results: %w", err)
			}
			out := filterResults(all, crawler.Status(opts.status), crawler.CrawlType(opts.typ))
			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			renderResults(cmd, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.status, "status", "", "only results with this status")
	cmd.Flags().StringVar(&opts.typ, "type", "", "only results of this crawl type")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func filterResults(in []crawler.ChatCrawlResult, status crawler.Status, typ crawler.CrawlType) []crawler.ChatCrawlResult {
	out := make([]crawler.ChatCrawlResult, 0, len(in))
	for _, res := range in {
		if status != "" && res.Status != status {
			continue
		}
		if typ != "" && res.Type != typ {
			continue
		}
		out = append(out, res)
	}
	return out
}

func renderResults(cmd *cobra.Command, results []crawler.ChatCrawlResult) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"URL", "Type", "Status", "Updated", "Error"})
	for _, res := range results {
		status := string(res.Status)
		if res.DecodeFailed {
			status += " (undecoded)"
		}
		t.AppendRow(table.Row{
			res.URL,
			res.Type,
			status,
			res.UpdatedAt.Format("2006-01-02 15:04"),
			truncate(res.Error, 60),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(results)})
	t.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
