package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the data type carried by a Value
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNumeric
	KindMultistate
	KindBinary
	KindAlphanumeric
)

var kindNames = map[Kind]string{
	KindUnknown:      "UNKNOWN",
	KindNumeric:      "NUMERIC",
	KindMultistate:   "MULTISTATE",
	KindBinary:       "BINARY",
	KindAlphanumeric: "ALPHANUMERIC",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind parses a data type name, case-insensitively
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if k != KindUnknown && strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return KindUnknown, &Error{
		Message:       "unknown data type",
		Kind:          ArgumentInvalid,
		PropertyName:  "kind",
		PropertyValue: s,
	}
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Value is a point value: exactly one of numeric, multistate, binary or
// alphanumeric, selected by Kind. Values are comparable and can key maps.
type Value struct {
	kind  Kind
	num   float64
	state int32
	flag  bool
	text  string
}

// NumericValue creates a numeric (double) value
func NumericValue(v float64) Value { return Value{kind: KindNumeric, num: v} }

// MultistateValue creates a multistate (integer state) value
func MultistateValue(v int32) Value { return Value{kind: KindMultistate, state: v} }

// BinaryValue creates a binary value
func BinaryValue(v bool) Value { return Value{kind: KindBinary, flag: v} }

// AlphanumericValue creates a string value
func AlphanumericValue(v string) Value { return Value{kind: KindAlphanumeric, text: v} }

// Kind returns the variant of the value
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether the value was never set
func (v Value) IsZero() bool { return v.kind == KindUnknown }

// Numeric returns the double value of a numeric value
func (v Value) Numeric() float64 { return v.num }

// State returns the state of a multistate value
func (v Value) State() int32 { return v.state }

// Bool returns the state of a binary value
func (v Value) Bool() bool { return v.flag }

// Text returns the string of an alphanumeric value
func (v Value) Text() string { return v.text }

// Float converts numeric, multistate and binary values to float64.
// ok is false for alphanumeric and unset values.
func (v Value) Float() (f float64, ok bool) {
	switch v.kind {
	case KindNumeric:
		return v.num, true
	case KindMultistate:
		return float64(v.state), true
	case KindBinary:
		if v.flag {
			return 1, true
		}
		return 0, true
	default:
		return math.NaN(), false
	}
}

// String renders the value for logs and CSV output
func (v Value) String() string {
	switch v.kind {
	case KindNumeric:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindMultistate:
		return strconv.FormatInt(int64(v.state), 10)
	case KindBinary:
		return strconv.FormatBool(v.flag)
	case KindAlphanumeric:
		return v.text
	default:
		return ""
	}
}

// ParseValue is the inverse of String for the given kind
func ParseValue(kind Kind, s string) (Value, error) {
	var (
		v   Value
		err error
	)
	switch kind {
	case KindNumeric:
		var f float64
		if f, err = strconv.ParseFloat(s, 64); err == nil {
			v = NumericValue(f)
		}
	case KindMultistate:
		var i int64
		if i, err = strconv.ParseInt(s, 10, 32); err == nil {
			v = MultistateValue(int32(i))
		}
	case KindBinary:
		var b bool
		if b, err = strconv.ParseBool(s); err == nil {
			v = BinaryValue(b)
		}
	case KindAlphanumeric:
		v = AlphanumericValue(s)
	default:
		err = fmt.Errorf("unsupported kind %s", kind)
	}
	if err != nil {
		return Value{}, &Error{
			Message:       "invalid " + kind.String() + " value",
			Kind:          ArgumentInvalid,
			PropertyName:  "value",
			PropertyValue: s,
			NestedError:   err,
		}
	}
	return v, nil
}

type valueJSON struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value with its kind so it survives a round trip
func (v Value) MarshalJSON() ([]byte, error) {
	var raw any
	switch v.kind {
	case KindNumeric:
		raw = v.num
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			// "NaN", "+Inf" or "-Inf"; JSON numbers cannot hold them
			raw = strconv.FormatFloat(v.num, 'g', -1, 64)
		}
	case KindMultistate:
		raw = v.state
	case KindBinary:
		raw = v.flag
	case KindAlphanumeric:
		raw = v.text
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Kind: v.kind, Value: data})
}

// UnmarshalJSON decodes a value written by MarshalJSON
func (v *Value) UnmarshalJSON(b []byte) error {
	var vj valueJSON
	if err := json.Unmarshal(b, &vj); err != nil {
		return err
	}
	switch vj.Kind {
	case KindNumeric:
		f, err := decodeNumber(vj.Value)
		if err != nil {
			return err
		}
		*v = NumericValue(f)
	case KindMultistate:
		var i int32
		if err := json.Unmarshal(vj.Value, &i); err != nil {
			return err
		}
		*v = MultistateValue(i)
	case KindBinary:
		var bv bool
		if err := json.Unmarshal(vj.Value, &bv); err != nil {
			return err
		}
		*v = BinaryValue(bv)
	case KindAlphanumeric:
		var s string
		if err := json.Unmarshal(vj.Value, &s); err != nil {
			return err
		}
		*v = AlphanumericValue(s)
	default:
		*v = Value{}
	}
	return nil
}

func decodeNumber(b json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if !math.IsNaN(f) && !math.IsInf(f, 0) {
		return 0, fmt.Errorf("finite number %q encoded as string", s)
	}
	return f, nil
}

// Sample is a single point value of one series. Bookend samples are synthetic
// values placed at a range boundary.
type Sample struct {
	SeriesID  int32 `json:"series_id"`
	Timestamp int64 `json:"timestamp"`
	Value     Value `json:"value"`
	Bookend   bool  `json:"bookend,omitempty"`
}

// Series identifies a time series and its data type
type Series struct {
	ID   int32  `json:"id"`
	XID  string `json:"xid"`
	Kind Kind   `json:"kind"`
}

// SeriesData holds samples for one series
type SeriesData struct {
	Series  Series   `json:"series"`
	Samples []Sample `json:"samples"`
}

// WriteRequest represents a write request to the storage engine
type WriteRequest struct {
	Data []SeriesData `json:"data"`
}

// TimeRange is the half-open interval [From, To) in epoch milliseconds
type TimeRange struct {
	From int64
	To   int64
}

// NewTimeRange validates and creates a time range
func NewTimeRange(from, to int64) (TimeRange, error) {
	if to < from {
		return TimeRange{}, &Error{
			Message:       fmt.Sprintf("to (%d) is before from (%d)", to, from),
			Kind:          RangeInvalid,
			PropertyName:  "to",
			PropertyValue: to,
		}
	}
	return TimeRange{From: from, To: to}, nil
}

// Contains reports whether ts falls in [From, To)
func (r TimeRange) Contains(ts int64) bool {
	return ts >= r.From && ts < r.To
}

// Empty reports whether the range has zero length
func (r TimeRange) Empty() bool {
	return r.To <= r.From
}

// Bucket is one period of a rollup: [Start, End)
type Bucket struct {
	Start int64
	End   int64
	Index int
}

// Width returns the bucket length in milliseconds
func (b Bucket) Width() int64 {
	return b.End - b.Start
}
