package cmd

import (
	"errors"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the stored backend keys and model settings",
		Long: `Makes one live request per credential: both reader backends fetch a
well-known page and the configured model answers a short prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			checks := appInstance.CheckKeys(cmd.Context())

			names := make([]string, 0, len(checks))
			for name := range checks {
				names = append(names, name)
			}
			slices.Sort(names)

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Check", "Result"})
			failed := false
			for _, name := range names {
				result := "ok"
				if !checks[name] {
					result, failed = "FAILED", true
				}
				t.AppendRow(table.Row{name, result})
			}
			t.Render()
			if failed {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
}
