package writer

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/historian/pkg/query"
)

var (
	_ query.Writer = (*JSON)(nil)
	_ query.Writer = (*CSV)(nil)
	_ query.Writer = (*Recorder)(nil)
)

// grouped writes one multiple-points-per-array element
func grouped(t *testing.T, w query.Writer) {
	t.Helper()
	require.NoError(t, w.StartArray())
	require.NoError(t, w.StartObject())
	require.NoError(t, w.Long("timestamp", 1000))
	require.NoError(t, w.StartNamedObject("DP_a"))
	require.NoError(t, w.Double("value", 1.5))
	require.NoError(t, w.EndObject())
	require.NoError(t, w.StartNamedObject("DP_b"))
	require.NoError(t, w.Integer("value", 3))
	require.NoError(t, w.Boolean("bookend", true))
	require.NoError(t, w.EndObject())
	require.NoError(t, w.EndObject())
	require.NoError(t, w.EndArray())
}

// sections writes per-series arrays
func sections(t *testing.T, w query.Writer) {
	t.Helper()
	require.NoError(t, w.StartObject())
	require.NoError(t, w.StartNamedArray("DP_a"))
	for i, v := range []float64{1, math.NaN()} {
		require.NoError(t, w.StartObject())
		require.NoError(t, w.Long("timestamp", int64(i)))
		require.NoError(t, w.Double("value", v))
		require.NoError(t, w.EndObject())
	}
	require.NoError(t, w.EndArray())
	require.NoError(t, w.StartNamedArray("DP_b"))
	require.NoError(t, w.StartObject())
	require.NoError(t, w.Long("timestamp", 5))
	require.NoError(t, w.String("value", "ON \"fire\""))
	require.NoError(t, w.StartNamedArray("states"))
	require.NoError(t, w.StartObject())
	require.NoError(t, w.Integer("count", 1))
	require.NoError(t, w.EndObject())
	require.NoError(t, w.EndArray())
	require.NoError(t, w.Null("first"))
	require.NoError(t, w.EndObject())
	require.NoError(t, w.EndArray())
	require.NoError(t, w.EndObject())
}

func TestJSONGrouped(t *testing.T) {
	var buf bytes.Buffer
	grouped(t, NewJSON(&buf))

	assert.JSONEq(t, `[{"timestamp":1000,"DP_a":{"value":1.5},"DP_b":{"value":3,"bookend":true}}]`, buf.String())
}

func TestJSONSections(t *testing.T) {
	var buf bytes.Buffer
	sections(t, NewJSON(&buf))

	assert.JSONEq(t, `{
		"DP_a":[{"timestamp":0,"value":1},{"timestamp":1,"value":null}],
		"DP_b":[{"timestamp":5,"value":"ON \"fire\"","states":[{"count":1}],"first":null}]
	}`, buf.String())
}

func TestJSONUnbalanced(t *testing.T) {
	w := NewJSON(&bytes.Buffer{})
	require.NoError(t, w.StartArray())
	assert.Error(t, w.EndObject())

	w = NewJSON(&bytes.Buffer{})
	require.NoError(t, w.StartObject())
	assert.Error(t, w.Double("", 1), "values inside objects need a name")
}

func TestCSVGrouped(t *testing.T) {
	var buf bytes.Buffer
	grouped(t, NewCSV(&buf, nil))

	assert.Equal(t, "xid,timestamp,value,bookend\nDP_a,1000,1.5,\nDP_b,1000,3,true\n", buf.String())
}

func TestCSVSections(t *testing.T) {
	var buf bytes.Buffer
	sections(t, NewCSV(&buf, []string{"xid", "timestamp", "value", "first"}))

	assert.Equal(t, "xid,timestamp,value,first\nDP_a,0,1,\nDP_a,1,NaN,\nDP_b,5,\"ON \"\"fire\"\"\",\n", buf.String())
}

func TestCSVSingleArray(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSV(&buf, nil)
	require.NoError(t, w.StartArray())
	require.NoError(t, w.StartObject())
	require.NoError(t, w.String("xid", "DP_a"))
	require.NoError(t, w.Long("timestamp", 7))
	require.NoError(t, w.Null("value"))
	require.NoError(t, w.EndObject())
	require.NoError(t, w.EndArray())

	assert.Equal(t, "xid,timestamp,value,bookend\nDP_a,7,,\n", buf.String())
}

func TestRecorder(t *testing.T) {
	var r Recorder
	grouped(t, &r)

	assert.Equal(t, []string{
		"StartArray",
		"StartObject",
		"Long(timestamp=1000)",
		"StartObject(DP_a)",
		"Double(value=1.5)",
		"EndObject",
		"StartObject(DP_b)",
		"Integer(value=3)",
		"Boolean(bookend=true)",
		"EndObject",
		"EndObject",
		"EndArray",
	}, r.Tokens)
}
