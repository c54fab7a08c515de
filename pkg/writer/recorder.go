package writer

import (
	"fmt"
	"strconv"
)

// Recorder captures tokens as readable strings, e.g. "Double(value=1.5)"
type Recorder struct {
	Tokens []string
}

func (r *Recorder) add(format string, args ...any) error {
	r.Tokens = append(r.Tokens, fmt.Sprintf(format, args...))
	return nil
}

func (r *Recorder) StartArray() error                  { return r.add("StartArray") }
func (r *Recorder) StartNamedArray(name string) error  { return r.add("StartArray(%s)", name) }
func (r *Recorder) EndArray() error                    { return r.add("EndArray") }
func (r *Recorder) StartObject() error                 { return r.add("StartObject") }
func (r *Recorder) StartNamedObject(name string) error { return r.add("StartObject(%s)", name) }
func (r *Recorder) EndObject() error                   { return r.add("EndObject") }

func (r *Recorder) String(name, value string) error {
	return r.add("String(%s=%s)", name, value)
}

func (r *Recorder) Double(name string, value float64) error {
	return r.add("Double(%s=%s)", name, strconv.FormatFloat(value, 'g', -1, 64))
}

func (r *Recorder) Integer(name string, value int32) error {
	return r.add("Integer(%s=%d)", name, value)
}

func (r *Recorder) Long(name string, value int64) error {
	return r.add("Long(%s=%d)", name, value)
}

func (r *Recorder) Boolean(name string, value bool) error {
	return r.add("Boolean(%s=%t)", name, value)
}

func (r *Recorder) Null(name string) error { return r.add("Null(%s)", name) }
