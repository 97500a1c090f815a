package commands

import (
	"package-tracker/lib/cliutil"
	"package-tracker/lib/track"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(carriersCmd)
}

var carriersCmd = &cobra.Command{
	Use:   "carriers",
	Short: "Lists the supported carriers and their query limits.",
	Run: func(cmd *cobra.Command, args []string) {
		registerCarriers()

		t := cliutil.NewTable()
		t.AppendHeader(table.Row{"Carrier", "Max Batch", "Parallel"})
		for _, reg := range track.Registered() {
			t.AppendRow(table.Row{
				reg.Descriptor.DisplayName(),
				reg.Descriptor.MaxBatch,
				reg.Descriptor.SupportsParallel,
			})
		}
		t.Render()
	},
}
