package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSeriesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "series",
		Short:   "List the stored series",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			defer e.Close()

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tXID\tKIND")
			for _, sr := range e.store.Series() {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", sr.ID, sr.XID, sr.Kind)
			}
			return tw.Flush()
		},
	}
}
