package cli

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vjranagit/historian/pkg/api"
	"github.com/vjranagit/historian/pkg/query"
	"github.com/vjranagit/historian/pkg/types"
	"github.com/vjranagit/historian/pkg/writer"
)

type queryFlags struct {
	from, to       string
	timezone       string
	rollup         string
	interval       string
	limit          int
	bookend        bool
	singleArray    bool
	multiplePoints bool
	tolerance      float64
	target         int
	highQuality    bool
	prePost        bool
	format         string
}

// params maps the flags onto the HTTP query parameters so both surfaces
// share one parser
func (f *queryFlags) params(cmd *cobra.Command, xids []string) url.Values {
	v := url.Values{"xid": xids}
	set := func(flag, key, value string) {
		if cmd.Flags().Changed(flag) {
			v.Set(key, value)
		}
	}
	set("from", "from", f.from)
	set("to", "to", f.to)
	set("timezone", "timezone", f.timezone)
	set("rollup", "rollup", f.rollup)
	set("interval", "rollupInterval", f.interval)
	set("limit", "limit", strconv.Itoa(f.limit))
	set("bookend", "bookend", strconv.FormatBool(f.bookend))
	set("single-array", "singleArray", strconv.FormatBool(f.singleArray))
	set("multiple-points", "multiplePointsPerArray", strconv.FormatBool(f.multiplePoints))
	set("simplify-tolerance", "simplifyTolerance", strconv.FormatFloat(f.tolerance, 'g', -1, 64))
	set("simplify-target", "simplifyTarget", strconv.Itoa(f.target))
	set("simplify-high-quality", "simplifyHighQuality", strconv.FormatBool(f.highQuality))
	set("simplify-pre-post", "simplifyPrePostProcess", strconv.FormatBool(f.prePost))
	return v
}

func newQueryCmd(a *app) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query XID...",
		Short: "Query point values and write them as JSON or CSV",
		Long: `Query point values of one or more series.

Examples:
  historian query DP_flow --from 2024-01-01T00:00:00 --to 2024-01-02T00:00:00
  historian query DP_flow DP_pump --rollup AVERAGE --interval "15 MINUTES" --single-array
  historian query DP_flow --rollup CALENDAR --interval P1D --timezone Europe/Berlin --format csv
  historian query DP_flow --simplify-target 500 --bookend`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.format != "json" && f.format != "csv" {
				return fmt.Errorf("unknown format %q (json|csv)", f.format)
			}

			e, err := a.open()
			if err != nil {
				return err
			}
			defer e.Close()

			opts, err := e.apiOptions()
			if err != nil {
				return err
			}
			q, err := api.ParseQuery(f.params(cmd, args), e.store.SeriesByXID, opts, time.Now())
			if err != nil {
				return err
			}

			out := bufio.NewWriter(a.stdout)
			var w query.Writer
			if f.format == "csv" {
				columns := writer.DefaultColumns
				if q.Rollup == types.RollupCalendar {
					columns = writer.StatisticsColumns
				}
				w = writer.NewCSV(out, columns)
			} else {
				w = writer.NewJSON(out)
			}

			if err := query.Run(cmd.Context(), e.store, q, w, e.log); err != nil {
				return err
			}
			if f.format == "json" {
				out.WriteString("\n")
			}
			return out.Flush()
		},
	}

	cmd.Flags().StringVar(&f.from, "from", "", "range start, ISO 8601 or epoch ms (default: one hour before --to)")
	cmd.Flags().StringVar(&f.to, "to", "", "range end (exclusive), ISO 8601 or epoch ms (default: now)")
	cmd.Flags().StringVar(&f.timezone, "timezone", "", "IANA timezone (default: query.timezone)")
	cmd.Flags().StringVar(&f.rollup, "rollup", "", "rollup: AVERAGE, MIN, MAX, SUM, COUNT, FIRST, LAST, INTEGRAL, ARITHMETIC_MEAN or CALENDAR")
	cmd.Flags().StringVar(&f.interval, "interval", "", `rollup period, e.g. "15 MINUTES" or PT15M`)
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum samples read (default: query.default_limit)")
	cmd.Flags().BoolVar(&f.bookend, "bookend", false, "add values at the range boundaries")
	cmd.Flags().BoolVar(&f.singleArray, "single-array", false, "write all series into one array")
	cmd.Flags().BoolVar(&f.multiplePoints, "multiple-points", false, "group equal timestamps into one element (with --single-array)")
	cmd.Flags().Float64Var(&f.tolerance, "simplify-tolerance", 0, "Douglas-Peucker tolerance")
	cmd.Flags().IntVar(&f.target, "simplify-target", 0, "target point count for simplification")
	cmd.Flags().BoolVar(&f.highQuality, "simplify-high-quality", false, "skip the radial distance pre-pass")
	cmd.Flags().BoolVar(&f.prePost, "simplify-pre-post", false, "set aside values that cannot be simplified")
	cmd.Flags().StringVarP(&f.format, "format", "o", "json", "output format: json or csv")
	return cmd
}
