package writer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// DefaultColumns are the CSV columns of raw, rollup and simplified output
var DefaultColumns = []string{"xid", "timestamp", "value", "bookend"}

// StatisticsColumns are the CSV columns of full statistics output
var StatisticsColumns = []string{
	"xid", "timestamp", "periodEnd", "count", "startValue", "first", "last",
	"minimum", "maximum", "sum", "integral", "average", "arithmeticMean", "changes",
}

type csvFrame struct {
	object   bool
	name     string
	fields   map[string]string
	children bool
}

// CSV flattens tokens into one row per point. A point is an object holding a
// timestamp, or a named object inside one when several points share a
// timestamp. The xid comes from the xid field, the enclosing named object,
// or the enclosing named array. Nested arrays inside a point are dropped.
type CSV struct {
	w       *csv.Writer
	columns []string
	header  bool
	stack   []*csvFrame
}

// NewCSV creates a CSV token writer. A nil column list selects DefaultColumns.
func NewCSV(w io.Writer, columns []string) *CSV {
	if columns == nil {
		columns = DefaultColumns
	}
	return &CSV{w: csv.NewWriter(w), columns: columns}
}

func (c *CSV) push(name string, object bool) error {
	c.stack = append(c.stack, &csvFrame{object: object, name: name, fields: map[string]string{}})
	return nil
}

func (c *CSV) pop(object bool) (*csvFrame, error) {
	if len(c.stack) == 0 || c.stack[len(c.stack)-1].object != object {
		return nil, fmt.Errorf("writer: unbalanced end of %s", kindName(object))
	}
	f := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return f, nil
}

func (c *CSV) parent() *csvFrame {
	if len(c.stack) == 0 {
		return nil
	}
	return c.stack[len(c.stack)-1]
}

// section returns the name of the nearest enclosing named array
func (c *CSV) section() string {
	for i := len(c.stack) - 1; i >= 0; i-- {
		if !c.stack[i].object && c.stack[i].name != "" {
			return c.stack[i].name
		}
	}
	return ""
}

func (c *CSV) StartArray() error                  { return c.push("", false) }
func (c *CSV) StartNamedArray(name string) error  { return c.push(name, false) }
func (c *CSV) StartObject() error                 { return c.push("", true) }
func (c *CSV) StartNamedObject(name string) error { return c.push(name, true) }

func (c *CSV) EndArray() error {
	if _, err := c.pop(false); err != nil {
		return err
	}
	return c.flushIfDone()
}

func (c *CSV) EndObject() error {
	f, err := c.pop(true)
	if err != nil {
		return err
	}

	parent := c.parent()
	_, ownTS := f.fields["timestamp"]
	switch {
	case ownTS && !f.children:
		xid := f.fields["xid"]
		if xid == "" {
			xid = c.section()
		}
		if err := c.row(xid, f.fields); err != nil {
			return err
		}
	case !ownTS && parent != nil && parent.object:
		if ts, ok := parent.fields["timestamp"]; ok {
			parent.children = true
			f.fields["timestamp"] = ts
			if err := c.row(f.name, f.fields); err != nil {
				return err
			}
		}
	}
	return c.flushIfDone()
}

func (c *CSV) flushIfDone() error {
	if len(c.stack) > 0 {
		return nil
	}
	return c.Flush()
}

func (c *CSV) row(xid string, fields map[string]string) error {
	if !c.header {
		c.header = true
		if err := c.w.Write(c.columns); err != nil {
			return err
		}
	}
	record := make([]string, len(c.columns))
	for i, col := range c.columns {
		if col == "xid" {
			record[i] = xid
			continue
		}
		record[i] = fields[col]
	}
	return c.w.Write(record)
}

func (c *CSV) set(name, value string) error {
	f := c.parent()
	if f == nil || !f.object {
		// scalars directly inside arrays have no column
		return nil
	}
	f.fields[name] = value
	return nil
}

func (c *CSV) String(name, value string) error { return c.set(name, value) }

func (c *CSV) Double(name string, value float64) error {
	return c.set(name, strconv.FormatFloat(value, 'g', -1, 64))
}

func (c *CSV) Integer(name string, value int32) error {
	return c.set(name, strconv.FormatInt(int64(value), 10))
}

func (c *CSV) Long(name string, value int64) error {
	return c.set(name, strconv.FormatInt(value, 10))
}

func (c *CSV) Boolean(name string, value bool) error {
	return c.set(name, strconv.FormatBool(value))
}

func (c *CSV) Null(name string) error { return c.set(name, "") }

// Flush writes buffered rows
func (c *CSV) Flush() error {
	c.w.Flush()
	return c.w.Error()
}
