package cli

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/historian/pkg/api"
	"github.com/vjranagit/historian/pkg/storage"
	"github.com/vjranagit/historian/pkg/types"
)

// importColumns are required in the CSV header, in any order
var importColumns = []string{"id", "xid", "kind", "timestamp", "value"}

func newImportCmd(a *app) *cobra.Command {
	var (
		format    string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load point values from a JSON write request or CSV file",
		Long: `Load point values into the store. FILE may be - for stdin.

JSON input has the shape of POST /api/v1/write:
  {"data":[{"series":{"id":1,"xid":"DP_flow","kind":"NUMERIC"},
            "samples":[{"timestamp":1000,"value":{"kind":"NUMERIC","value":1.5}}]}]}

CSV input needs a header with the columns id, xid, kind, timestamp and value:
  id,xid,kind,timestamp,value
  1,DP_flow,NUMERIC,2024-01-01T00:00:00Z,1.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = "json"
				if strings.HasSuffix(strings.ToLower(args[0]), ".csv") {
					format = "csv"
				}
			}
			if format != "json" && format != "csv" {
				return fmt.Errorf("unknown format %q (json|csv)", format)
			}

			var in io.Reader = a.stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			e, err := a.open()
			if err != nil {
				return err
			}
			defer e.Close()

			loc, err := e.cfg.Location()
			if err != nil {
				return err
			}

			started := time.Now()
			bw := storage.NewBatchWriter(e.store, batchSize)
			if format == "csv" {
				err = importCSV(cmd.Context(), bufio.NewReader(in), bw, loc)
			} else {
				err = importJSON(cmd.Context(), in, bw)
			}
			if err != nil {
				return err
			}
			if err := bw.Close(cmd.Context()); err != nil {
				return err
			}

			e.log.Info("import finished",
				zap.String("file", args[0]),
				zap.Int("samples", bw.Written()),
				zap.Duration("elapsed", time.Since(started)))
			fmt.Fprintf(a.stdout, "imported %d samples\n", bw.Written())
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "input format: json or csv (default: by file extension)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 10000, "samples per storage write")
	return cmd
}

func importJSON(ctx context.Context, in io.Reader, bw *storage.BatchWriter) error {
	var req types.WriteRequest
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("invalid write request: %w", err)
	}
	for _, sd := range req.Data {
		for i := range sd.Samples {
			sd.Samples[i].SeriesID = sd.Series.ID
			sd.Samples[i].Bookend = false
		}
		if err := bw.Write(ctx, sd); err != nil {
			return err
		}
	}
	return nil
}

func importCSV(ctx context.Context, in io.Reader, bw *storage.BatchWriter, loc *time.Location) error {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, name := range header {
		pos[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range importColumns {
		if _, ok := pos[col]; !ok {
			return fmt.Errorf("missing column %q", col)
		}
	}

	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		field := func(col string) string {
			if i := pos[col]; i < len(record) {
				return record[i]
			}
			return ""
		}

		sd, err := parseRow(field, loc)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := bw.Write(ctx, sd); err != nil {
			return err
		}
	}
}

func parseRow(field func(string) string, loc *time.Location) (types.SeriesData, error) {
	id, err := strconv.ParseInt(field("id"), 10, 32)
	if err != nil {
		return types.SeriesData{}, fmt.Errorf("invalid id %q", field("id"))
	}
	kind, err := types.ParseKind(field("kind"))
	if err != nil {
		return types.SeriesData{}, err
	}
	ts, err := api.ParseTime("timestamp", field("timestamp"), loc)
	if err != nil {
		return types.SeriesData{}, err
	}
	v, err := types.ParseValue(kind, field("value"))
	if err != nil {
		return types.SeriesData{}, err
	}

	sr := types.Series{ID: int32(id), XID: field("xid"), Kind: kind}
	return types.SeriesData{
		Series:  sr,
		Samples: []types.Sample{{SeriesID: sr.ID, Timestamp: ts, Value: v}},
	}, nil
}
