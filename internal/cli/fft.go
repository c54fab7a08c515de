package cli

import (
	"fmt"
	"net/url"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/vjranagit/historian/pkg/api"
	"github.com/vjranagit/historian/pkg/fft"
	"github.com/vjranagit/historian/pkg/metrics"
	"github.com/vjranagit/historian/pkg/types"
)

func newFFTCmd(a *app) *cobra.Command {
	var (
		from, to   string
		timezone   string
		pollPeriod int64
		limit      int
		inverse    bool
		format     string
	)
	cmd := &cobra.Command{
		Use:   "fft XID",
		Short: "Print the frequency spectrum of a series",
		Long: `Run an FFT (or with --inverse an IFFT) over the raw values of one series and
print one line per frequency bin.

Examples:
  historian fft DP_flow --from 2024-01-01T00:00:00 --to 2024-01-02T00:00:00
  historian fft DP_flow --poll-period 1000 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != "json" {
				return fmt.Errorf("unknown format %q (table|json)", format)
			}
			if pollPeriod < 0 || limit < 0 {
				return fmt.Errorf("--poll-period and --limit must not be negative")
			}

			e, err := a.open()
			if err != nil {
				return err
			}
			defer e.Close()

			sr, ok := e.store.SeriesByXID(args[0])
			if !ok {
				return fmt.Errorf("unknown series %s", args[0])
			}

			opts, err := e.apiOptions()
			if err != nil {
				return err
			}
			loc := opts.Location
			if timezone != "" {
				if loc, err = time.LoadLocation(timezone); err != nil {
					return err
				}
			}

			rng, err := api.ParseRange(url.Values{"from": {from}, "to": {to}}, loc, time.Now())
			if err != nil {
				return err
			}

			var samples []types.Sample
			for smp, err := range e.store.Values(cmd.Context(), []int32{sr.ID}, rng.From, rng.To, limit) {
				if err != nil {
					return types.StorageError(err)
				}
				samples = append(samples, smp)
			}

			bins, err := api.Transform(samples, !inverse, pollPeriod)
			if err != nil {
				return err
			}
			direction := "fft"
			if inverse {
				direction = "ifft"
			}
			metrics.TransformsTotal.WithLabelValues(direction).Inc()

			if format == "json" {
				enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(bins)
			}
			return printBins(a, bins)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "range start, ISO 8601 or epoch ms (default: one hour before --to)")
	cmd.Flags().StringVar(&to, "to", "", "range end (exclusive), ISO 8601 or epoch ms (default: now)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone for times without an offset")
	cmd.Flags().Int64Var(&pollPeriod, "poll-period", 0, "sampling period hint in ms (default: measured average)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum samples read (0 = all)")
	cmd.Flags().BoolVar(&inverse, "inverse", false, "run the inverse transform")
	cmd.Flags().StringVarP(&format, "format", "o", "table", "output format: table or json")
	return cmd
}

func printBins(a *app, bins []fft.Bin) error {
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BIN\tFREQUENCY (Hz)\tPERIOD (s)\tMAGNITUDE")
	for i, b := range bins {
		fmt.Fprintf(tw, "%d\t%.6g\t%.6g\t%.6g\n", i, b.Frequency, b.Period, b.Value)
	}
	return tw.Flush()
}
