// Package writer renders query output tokens as JSON or CSV.
package writer

import (
	"errors"
	"fmt"
	"io"
	"math"

	jsoniter "github.com/json-iterator/go"
)

type frame struct {
	object bool
	count  int
}

// JSON streams tokens as a JSON document. Names are ignored inside arrays.
// Non-finite doubles are written as null.
type JSON struct {
	stream *jsoniter.Stream
	stack  []frame
}

// NewJSON creates a JSON token writer on top of w
func NewJSON(w io.Writer) *JSON {
	return &JSON{stream: jsoniter.NewStream(jsoniter.ConfigCompatibleWithStandardLibrary, w, 4096)}
}

// key writes the separator and, inside objects, the field name
func (j *JSON) key(name string) error {
	if len(j.stack) == 0 {
		return nil
	}
	top := &j.stack[len(j.stack)-1]
	if top.count > 0 {
		j.stream.WriteMore()
	}
	top.count++
	if top.object {
		if name == "" {
			return errors.New("writer: unnamed value inside object")
		}
		j.stream.WriteObjectField(name)
	}
	return nil
}

func (j *JSON) open(name string, object bool) error {
	if err := j.key(name); err != nil {
		return err
	}
	if object {
		j.stream.WriteObjectStart()
	} else {
		j.stream.WriteArrayStart()
	}
	j.stack = append(j.stack, frame{object: object})
	return j.stream.Error
}

func (j *JSON) close(object bool) error {
	if len(j.stack) == 0 || j.stack[len(j.stack)-1].object != object {
		return fmt.Errorf("writer: unbalanced end of %s", kindName(object))
	}
	j.stack = j.stack[:len(j.stack)-1]
	if object {
		j.stream.WriteObjectEnd()
	} else {
		j.stream.WriteArrayEnd()
	}
	if len(j.stack) == 0 {
		return j.stream.Flush()
	}
	return j.stream.Error
}

func kindName(object bool) string {
	if object {
		return "object"
	}
	return "array"
}

func (j *JSON) StartArray() error                 { return j.open("", false) }
func (j *JSON) StartNamedArray(name string) error { return j.open(name, false) }
func (j *JSON) EndArray() error                   { return j.close(false) }
func (j *JSON) StartObject() error                { return j.open("", true) }

func (j *JSON) StartNamedObject(name string) error { return j.open(name, true) }
func (j *JSON) EndObject() error                   { return j.close(true) }

func (j *JSON) String(name, value string) error {
	if err := j.key(name); err != nil {
		return err
	}
	j.stream.WriteString(value)
	return j.stream.Error
}

func (j *JSON) Double(name string, value float64) error {
	if err := j.key(name); err != nil {
		return err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		j.stream.WriteNil()
	} else {
		j.stream.WriteFloat64(value)
	}
	return j.stream.Error
}

func (j *JSON) Integer(name string, value int32) error {
	if err := j.key(name); err != nil {
		return err
	}
	j.stream.WriteInt32(value)
	return j.stream.Error
}

func (j *JSON) Long(name string, value int64) error {
	if err := j.key(name); err != nil {
		return err
	}
	j.stream.WriteInt64(value)
	return j.stream.Error
}

func (j *JSON) Boolean(name string, value bool) error {
	if err := j.key(name); err != nil {
		return err
	}
	j.stream.WriteBool(value)
	return j.stream.Error
}

func (j *JSON) Null(name string) error {
	if err := j.key(name); err != nil {
		return err
	}
	j.stream.WriteNil()
	return j.stream.Error
}

// Flush writes buffered output
func (j *JSON) Flush() error {
	return j.stream.Flush()
}
