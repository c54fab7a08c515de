package storage

import (
	"fmt"
	"testing"

	"github.com/vjranagit/historian/pkg/types"
)

func TestIndexAddSeries(t *testing.T) {
	idx := NewIndex()

	sr := types.Series{ID: 7, XID: "DP_boiler_temp", Kind: types.KindNumeric}
	if err := idx.AddSeries(sr); err != nil {
		t.Fatalf("Failed to add series: %v", err)
	}

	// Adding the same series again should be a no-op
	if err := idx.AddSeries(sr); err != nil {
		t.Fatalf("Re-adding identical series failed: %v", err)
	}

	if idx.SeriesCount() != 1 {
		t.Errorf("Expected 1 series, got %d", idx.SeriesCount())
	}

	meta, ok := idx.GetSeries(7)
	if !ok {
		t.Fatal("Series not found in index")
	}
	if meta.Series != sr {
		t.Errorf("Expected %+v, got %+v", sr, meta.Series)
	}
}

func TestIndexAddSeriesConflicts(t *testing.T) {
	idx := NewIndex()
	if err := idx.AddSeries(types.Series{ID: 1, XID: "DP_a", Kind: types.KindNumeric}); err != nil {
		t.Fatalf("Failed to add series: %v", err)
	}

	testCases := []struct {
		description string
		series      types.Series
	}{
		{"kind changed", types.Series{ID: 1, XID: "DP_a", Kind: types.KindBinary}},
		{"xid changed", types.Series{ID: 1, XID: "DP_b", Kind: types.KindNumeric}},
		{"xid reused", types.Series{ID: 2, XID: "DP_a", Kind: types.KindNumeric}},
		{"missing xid", types.Series{ID: 3, Kind: types.KindNumeric}},
		{"missing kind", types.Series{ID: 4, XID: "DP_d"}},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			if err := idx.AddSeries(tc.series); err == nil {
				t.Errorf("Expected error adding %+v", tc.series)
			}
		})
	}
}

func TestIndexFindByXID(t *testing.T) {
	idx := NewIndex()
	for i := int32(3); i > 0; i-- {
		sr := types.Series{ID: i, XID: fmt.Sprintf("DP_%d", i), Kind: types.KindMultistate}
		if err := idx.AddSeries(sr); err != nil {
			t.Fatalf("Failed to add series: %v", err)
		}
	}

	sr, ok := idx.FindByXID("DP_2")
	if !ok || sr.ID != 2 {
		t.Errorf("Expected series 2, got %+v (found=%v)", sr, ok)
	}

	if _, ok := idx.FindByXID("DP_missing"); ok {
		t.Error("Expected unknown xid to be missing")
	}

	all := idx.All()
	if len(all) != 3 {
		t.Fatalf("Expected 3 series, got %d", len(all))
	}
	for i, sr := range all {
		if sr.ID != int32(i+1) {
			t.Errorf("Expected series ordered by ID, got %d at %d", sr.ID, i)
		}
	}
}

func TestIndexUpdateTimeRange(t *testing.T) {
	idx := NewIndex()
	if err := idx.AddSeries(types.Series{ID: 1, XID: "DP_a", Kind: types.KindNumeric}); err != nil {
		t.Fatalf("Failed to add series: %v", err)
	}

	// negative timestamps are valid epoch milliseconds
	if err := idx.UpdateTimeRange(1, -5000, -1000); err != nil {
		t.Fatalf("Failed to update time range: %v", err)
	}
	if err := idx.UpdateTimeRange(1, -2000, 3000); err != nil {
		t.Fatalf("Failed to update time range: %v", err)
	}

	meta, _ := idx.GetSeries(1)
	if meta.MinTime != -5000 {
		t.Errorf("Expected MinTime=-5000, got %d", meta.MinTime)
	}
	if meta.MaxTime != 3000 {
		t.Errorf("Expected MaxTime=3000, got %d", meta.MaxTime)
	}

	if err := idx.UpdateTimeRange(99, 0, 1); err == nil {
		t.Error("Expected error for unknown series")
	}
}

func TestIndexSerialize(t *testing.T) {
	idx := NewIndex()

	series := []types.Series{
		{ID: 1, XID: "DP_pressure", Kind: types.KindNumeric},
		{ID: 2, XID: "DP_pump_state", Kind: types.KindMultistate},
		{ID: 5, XID: "DP_alarm_text", Kind: types.KindAlphanumeric},
	}
	for _, sr := range series {
		if err := idx.AddSeries(sr); err != nil {
			t.Fatalf("Failed to add series: %v", err)
		}
	}
	if err := idx.UpdateTimeRange(2, 100, 200); err != nil {
		t.Fatalf("Failed to update time range: %v", err)
	}

	data, err := idx.Serialize()
	if err != nil {
		t.Fatalf("Failed to serialize index: %v", err)
	}

	restored, err := DeserializeIndex(data)
	if err != nil {
		t.Fatalf("Failed to deserialize index: %v", err)
	}

	if restored.SeriesCount() != len(series) {
		t.Fatalf("Expected %d series, got %d", len(series), restored.SeriesCount())
	}
	for _, sr := range series {
		got, ok := restored.FindByXID(sr.XID)
		if !ok || got != sr {
			t.Errorf("Expected %+v, got %+v", sr, got)
		}
	}
	meta, _ := restored.GetSeries(2)
	if meta.MinTime != 100 || meta.MaxTime != 200 {
		t.Errorf("Time range lost: %d..%d", meta.MinTime, meta.MaxTime)
	}

	if _, err := DeserializeIndex(data[:len(data)-3]); err == nil {
		t.Error("Expected error for truncated index")
	}
}

func BenchmarkIndexAddSeries(b *testing.B) {
	idx := NewIndex()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = idx.AddSeries(types.Series{ID: int32(i % 10000), XID: fmt.Sprintf("DP_%d", i%10000), Kind: types.KindNumeric})
	}
}

func BenchmarkIndexFindByXID(b *testing.B) {
	idx := NewIndex()

	// Add 10000 series
	for i := 0; i < 10000; i++ {
		_ = idx.AddSeries(types.Series{ID: int32(i), XID: fmt.Sprintf("DP_%d", i), Kind: types.KindNumeric})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.FindByXID("DP_5000")
	}
}
