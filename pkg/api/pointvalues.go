package api

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/relvacode/iso8601"
	"go.uber.org/zap"

	"github.com/vjranagit/historian/pkg/fft"
	"github.com/vjranagit/historian/pkg/metrics"
	"github.com/vjranagit/historian/pkg/query"
	"github.com/vjranagit/historian/pkg/simplify"
	"github.com/vjranagit/historian/pkg/types"
	"github.com/vjranagit/historian/pkg/writer"
)

// defaultWindow is the range queried when from is omitted
const defaultWindow = time.Hour

// SeriesResolver looks a series up by XID
type SeriesResolver func(xid string) (types.Series, bool)

// ParseQuery builds a query from request parameters:
//
//	xid                     repeatable or comma separated
//	from, to                ISO 8601 or epoch milliseconds; to defaults to now
//	timezone                IANA zone for zone-less times and calendar rollups
//	rollup, rollupInterval  e.g. AVERAGE and "15 MINUTES" or PT15M
//	limit, bookend, singleArray, multiplePointsPerArray
//	simplifyTolerance, simplifyTarget, simplifyHighQuality, simplifyPrePostProcess
func ParseQuery(params url.Values, resolve SeriesResolver, opts Options, now time.Time) (*query.Query, error) {
	q := &query.Query{Limit: opts.DefaultLimit}

	xids := splitList(params["xid"])
	if len(xids) == 0 {
		return nil, types.ConfigError("xid", "", "at least one xid is required")
	}
	if opts.MaxSeries > 0 && len(xids) > opts.MaxSeries {
		return nil, types.ConfigError("xid", len(xids), "too many series requested")
	}
	for _, xid := range xids {
		sr, ok := resolve(xid)
		if !ok {
			return nil, &types.Error{
				Message:       "unknown series",
				Kind:          types.ArgumentInvalid,
				PropertyName:  "xid",
				PropertyValue: xid,
			}
		}
		q.Series = append(q.Series, sr)
	}

	loc, err := parseLocation(params.Get("timezone"), opts.Location)
	if err != nil {
		return nil, err
	}
	q.Location = loc

	r, err := ParseRange(params, loc, now)
	if err != nil {
		return nil, err
	}
	q.Range = r

	if q.Rollup, err = types.ParseRollup(params.Get("rollup")); err != nil {
		return nil, err
	}
	if v := params.Get("rollupInterval"); v != "" {
		if q.Interval, err = types.ParseInterval(v); err != nil {
			return nil, err
		}
	}

	if v := params.Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			return nil, types.ConfigError("limit", v, "limit must be an integer")
		}
	}
	if q.Bookend, err = parseBool(params, "bookend"); err != nil {
		return nil, err
	}
	if q.SingleArray, err = parseBool(params, "singleArray"); err != nil {
		return nil, err
	}
	if q.MultiplePointsPerArray, err = parseBool(params, "multiplePointsPerArray"); err != nil {
		return nil, err
	}

	if q.Simplify, err = parseSimplify(params); err != nil {
		return nil, err
	}

	return q, q.Validate()
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseLocation(name string, fallback *time.Location) (*time.Location, error) {
	if name == "" {
		if fallback == nil {
			return time.UTC, nil
		}
		return fallback, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, types.ConfigError("timezone", name, "unknown timezone")
	}
	return loc, nil
}

// ParseTime accepts epoch milliseconds or an ISO 8601 timestamp. Times
// without an offset are read in loc.
func ParseTime(name, value string, loc *time.Location) (int64, error) {
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ms, nil
	}
	t, err := iso8601.ParseInLocation([]byte(value), loc)
	if err != nil {
		return 0, &types.Error{
			Message:       "invalid time",
			Kind:          types.ConfigurationInvalid,
			PropertyName:  name,
			PropertyValue: value,
			NestedError:   err,
		}
	}
	return t.UnixMilli(), nil
}

// ParseRange reads the from/to parameters. to defaults to now and from to one
// hour before to.
func ParseRange(params url.Values, loc *time.Location, now time.Time) (types.TimeRange, error) {
	to := now.UnixMilli()
	if v := params.Get("to"); v != "" {
		var err error
		if to, err = ParseTime("to", v, loc); err != nil {
			return types.TimeRange{}, err
		}
	}
	from := to - defaultWindow.Milliseconds()
	if v := params.Get("from"); v != "" {
		var err error
		if from, err = ParseTime("from", v, loc); err != nil {
			return types.TimeRange{}, err
		}
	}
	return types.NewTimeRange(from, to)
}

func parseBool(params url.Values, name string) (bool, error) {
	v := params.Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, types.ConfigError(name, v, "expected true or false")
	}
	return b, nil
}

// parseSimplify returns nil unless a tolerance or target is given
func parseSimplify(params url.Values) (*simplify.Options, error) {
	tol, target := params.Get("simplifyTolerance"), params.Get("simplifyTarget")
	if tol == "" && target == "" {
		return nil, nil
	}

	opts := &simplify.Options{}
	var err error
	if tol != "" {
		if opts.Tolerance, err = strconv.ParseFloat(tol, 64); err != nil {
			return nil, types.ConfigError("simplifyTolerance", tol, "tolerance must be a number")
		}
	}
	if target != "" {
		if opts.TargetPointCount, err = strconv.Atoi(target); err != nil {
			return nil, types.ConfigError("simplifyTarget", target, "target must be an integer")
		}
	}
	if opts.HighQuality, err = parseBool(params, "simplifyHighQuality"); err != nil {
		return nil, err
	}
	if opts.PrePostProcess, err = parseBool(params, "simplifyPrePostProcess"); err != nil {
		return nil, err
	}
	return opts, nil
}

// handlePointValues runs a point value query. Output is buffered so a
// failure part way through still yields a clean error response.
func (s *Server) handlePointValues(w http.ResponseWriter, r *http.Request) {
	q, err := ParseQuery(r.URL.Query(), s.storage.SeriesByXID, s.opts, time.Now())
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.Timeout)
	defer cancel()

	var (
		buf         bytes.Buffer
		out         query.Writer
		contentType string
	)
	if r.URL.Query().Get("format") == "csv" {
		columns := writer.DefaultColumns
		if q.Rollup == types.RollupCalendar {
			columns = writer.StatisticsColumns
		}
		out, contentType = writer.NewCSV(&buf, columns), "text/csv"
	} else {
		out, contentType = writer.NewJSON(&buf), "application/json"
	}

	if err := query.Run(ctx, s.storage, q, out, s.log); err != nil {
		s.respondPipelineError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.log.Debug("response write failed", zap.Error(err))
	}
}

// handleTransform runs the FFT (forward) or IFFT over the raw values of one
// series and returns the spectrum bins
func (s *Server) handleTransform(forward bool) http.HandlerFunc {
	direction := "ifft"
	if forward {
		direction = "fft"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		xid := mux.Vars(r)["xid"]
		sr, ok := s.storage.SeriesByXID(xid)
		if !ok {
			s.respondError(w, http.StatusNotFound, "unknown series "+xid)
			return
		}

		params := r.URL.Query()
		loc, err := parseLocation(params.Get("timezone"), s.opts.Location)
		if err != nil {
			s.respondPipelineError(w, err)
			return
		}
		rng, err := ParseRange(params, loc, time.Now())
		if err != nil {
			s.respondPipelineError(w, err)
			return
		}
		limit := s.opts.DefaultLimit
		if v := params.Get("limit"); v != "" {
			if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
				s.respondPipelineError(w, types.ConfigError("limit", v, "limit must be a non-negative integer"))
				return
			}
		}
		var pollPeriod int64
		if v := params.Get("pollPeriod"); v != "" {
			if pollPeriod, err = strconv.ParseInt(v, 10, 64); err != nil || pollPeriod <= 0 {
				s.respondPipelineError(w, types.ConfigError("pollPeriod", v, "poll period must be a positive number of milliseconds"))
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.opts.Timeout)
		defer cancel()

		var samples []types.Sample
		for smp, err := range s.storage.Values(ctx, []int32{sr.ID}, rng.From, rng.To, limit) {
			if err != nil {
				s.respondPipelineError(w, types.StorageError(err))
				return
			}
			samples = append(samples, smp)
		}

		bins, err := Transform(samples, forward, pollPeriod)
		if err != nil {
			s.respondPipelineError(w, err)
			return
		}
		metrics.TransformsTotal.WithLabelValues(direction).Inc()
		s.respondJSON(w, http.StatusOK, bins)
	}
}

// Transform loads the samples into a generator, runs the transform and
// extracts the spectrum. No samples yields an empty spectrum.
func Transform(samples []types.Sample, forward bool, pollPeriodMs int64) ([]fft.Bin, error) {
	gen := fft.NewGenerator(len(samples))
	for _, smp := range samples {
		if err := gen.Data(smp); err != nil {
			return nil, err
		}
	}
	if gen.Len() == 0 {
		return []fft.Bin{}, nil
	}

	rate := fft.SampleRateHz(pollPeriodMs, gen.AverageSamplePeriodMs())
	if forward {
		gen.FFT()
	} else {
		gen.IFFT()
	}
	return fft.Spectrum(gen.Values(), rate), nil
}
