package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/vjranagit/historian/pkg/types"
)

// Index manages the series catalogue
type Index struct {
	// Maps series ID to series metadata
	series map[int32]*seriesMetadata
	// Reverse lookup: XID -> series ID
	byXID map[string]int32
}

// seriesMetadata holds metadata about a single series
type seriesMetadata struct {
	Series  types.Series
	MinTime int64
	MaxTime int64
	hasData bool
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		series: make(map[int32]*seriesMetadata),
		byXID:  make(map[string]int32),
	}
}

// AddSeries adds a series to the index. Re-adding an identical series is a
// no-op; changing the kind or XID of a known ID is an error.
func (idx *Index) AddSeries(sr types.Series) error {
	if err := idx.CheckSeries(sr); err != nil {
		return err
	}
	if _, exists := idx.series[sr.ID]; exists {
		return nil
	}

	idx.series[sr.ID] = &seriesMetadata{Series: sr}
	idx.byXID[sr.XID] = sr.ID
	return nil
}

// CheckSeries reports whether AddSeries would accept the series
func (idx *Index) CheckSeries(sr types.Series) error {
	if sr.XID == "" {
		return fmt.Errorf("series %d has no xid", sr.ID)
	}
	if sr.Kind == types.KindUnknown {
		return fmt.Errorf("series %d has no data type", sr.ID)
	}

	// Check if series already exists
	if meta, exists := idx.series[sr.ID]; exists {
		if meta.Series != sr {
			return fmt.Errorf("series %d already registered as %s/%s", sr.ID, meta.Series.XID, meta.Series.Kind)
		}
		return nil
	}
	if other, taken := idx.byXID[sr.XID]; taken {
		return fmt.Errorf("xid %q already used by series %d", sr.XID, other)
	}
	return nil
}

// GetSeries retrieves series metadata by ID
func (idx *Index) GetSeries(id int32) (*seriesMetadata, bool) {
	meta, ok := idx.series[id]
	return meta, ok
}

// FindByXID finds a series by its external identifier
func (idx *Index) FindByXID(xid string) (types.Series, bool) {
	id, ok := idx.byXID[xid]
	if !ok {
		return types.Series{}, false
	}
	return idx.series[id].Series, true
}

// All returns every series ordered by ID
func (idx *Index) All() []types.Series {
	result := make([]types.Series, 0, len(idx.series))
	for _, meta := range idx.series {
		result = append(result, meta.Series)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// UpdateTimeRange widens the known data range of a series
func (idx *Index) UpdateTimeRange(id int32, minTime, maxTime int64) error {
	meta, ok := idx.series[id]
	if !ok {
		return fmt.Errorf("series %d not found", id)
	}

	if !meta.hasData || minTime < meta.MinTime {
		meta.MinTime = minTime
	}
	if !meta.hasData || maxTime > meta.MaxTime {
		meta.MaxTime = maxTime
	}
	meta.hasData = true

	return nil
}

// SeriesCount returns the number of indexed series
func (idx *Index) SeriesCount() int {
	return len(idx.series)
}

// Serialize serializes the index to bytes, ordered by series ID
func (idx *Index) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)

	// Write series count
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(idx.series))); err != nil {
		return nil, err
	}

	for _, sr := range idx.All() {
		meta := idx.series[sr.ID]
		header := struct {
			ID      int32
			Kind    uint8
			HasData bool
			MinTime int64
			MaxTime int64
		}{sr.ID, uint8(sr.Kind), meta.hasData, meta.MinTime, meta.MaxTime}
		if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
			return nil, err
		}

		// Write xid
		xid := []byte(sr.XID)
		if err := binary.Write(buf, binary.LittleEndian, uint16(len(xid))); err != nil {
			return nil, err
		}
		if _, err := buf.Write(xid); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DeserializeIndex rebuilds an index written by Serialize
func DeserializeIndex(data []byte) (*Index, error) {
	idx := NewIndex()
	r := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read series count: %w", err)
	}

	for i := uint32(0); i < count; i++ {
		var header struct {
			ID      int32
			Kind    uint8
			HasData bool
			MinTime int64
			MaxTime int64
		}
		if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
			return nil, fmt.Errorf("read series %d: %w", i, err)
		}
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read series %d: %w", i, err)
		}
		xid := make([]byte, n)
		if _, err := io.ReadFull(r, xid); err != nil {
			return nil, fmt.Errorf("read series %d xid: %w", i, err)
		}

		sr := types.Series{ID: header.ID, XID: string(xid), Kind: types.Kind(header.Kind)}
		if err := idx.AddSeries(sr); err != nil {
			return nil, err
		}
		meta := idx.series[sr.ID]
		meta.hasData = header.HasData
		meta.MinTime = header.MinTime
		meta.MaxTime = header.MaxTime
	}

	return idx, nil
}
