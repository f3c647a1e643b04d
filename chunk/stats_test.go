package chunk

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/ndvserve/ndv/ndv"
)

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

func TestComputeStats(t *testing.T) {
	arr, err := ndv.ArrayFromFloat64s(ndv.Float64, []int{6}, []float64{2, math.NaN(), 4, 4, 5, 5})
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	stats, err := ComputeStats(arr)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if stats.Count != 5 || stats.Min != 2 || stats.Max != 5 {
		t.Errorf("bad stats: %+v\n", stats)
	}
	if !closeTo(stats.Mean, 4) || !closeTo(stats.Std, math.Sqrt(6.0/5.0)) {
		t.Errorf("bad mean or std: %+v\n", stats)
	}
}

func TestComputeStatsParallel(t *testing.T) {
	oldChunk := StatsChunkElements
	StatsChunkElements = 7
	defer func() { StatsChunkElements = oldChunk }()

	arr := rangeArray(t, "<u2", []int{10, 10})
	stats, err := ComputeStats(arr)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	// population std of 0..99
	expectedStd := math.Sqrt((100*100 - 1) / 12.0)
	if stats.Count != 100 || stats.Min != 0 || stats.Max != 99 || !closeTo(stats.Mean, 49.5) || !closeTo(stats.Std, expectedStd) {
		t.Errorf("bad chunked stats: %+v\n", stats)
	}
}

func TestComputeStatsNoValues(t *testing.T) {
	empty := ndv.NewArray(ndv.Float32, []int{0, 3})
	nans, err := ndv.ArrayFromFloat64s(ndv.Float32, []int{2}, []float64{math.NaN(), math.NaN()})
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	for _, arr := range []*ndv.Array{empty, nans} {
		stats, err := ComputeStats(arr)
		if err != nil {
			t.Fatalf("%v\n", err)
		}
		if stats.Count != 0 || !math.IsNaN(stats.Min) || !math.IsNaN(stats.Std) {
			t.Errorf("expected NaN stats for shape %v, got %+v\n", arr.Shape, stats)
		}
		data, err := json.Marshal(stats)
		if err != nil {
			t.Fatalf("%v\n", err)
		}
		if string(data) != `{"nanmin":null,"nanmax":null,"nanmean":null,"nanstd":null}` {
			t.Errorf("bad JSON for NaN stats: %s\n", data)
		}
		var back Stats
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("%v\n", err)
		}
		if !math.IsNaN(back.Mean) {
			t.Errorf("expected null to decode as NaN, got %v\n", back.Mean)
		}
	}

	str := ndv.NewArray(ndv.MustParseDataType("|S4"), []int{3})
	if _, err := ComputeStats(str); !errors.Is(err, ErrNotNumeric) {
		t.Errorf("expected ErrNotNumeric for string data, got %v\n", err)
	}
}

func TestStatsInfinities(t *testing.T) {
	arr, err := ndv.ArrayFromFloat64s(ndv.Float64, []int{4}, []float64{math.Inf(-1), 1, math.NaN(), math.Inf(1)})
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	stats, err := ComputeStats(arr)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if !math.IsInf(stats.Min, -1) || !math.IsInf(stats.Max, 1) || stats.Count != 3 {
		t.Fatalf("expected infinite min and max, got %+v\n", stats)
	}
	data, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if string(data) != `{"nanmin":"-Infinity","nanmax":"Infinity","nanmean":null,"nanstd":null}` {
		t.Errorf("bad JSON for infinite stats: %s\n", data)
	}
	var back Stats
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("%v\n", err)
	}
	if !math.IsInf(back.Min, -1) || !math.IsInf(back.Max, 1) || !math.IsNaN(back.Mean) {
		t.Errorf("infinite stats didn't survive JSON: %+v\n", back)
	}

	finite := Stats{Min: -2.5, Max: 3, Mean: 0.25, Std: 1}
	if data, _ = json.Marshal(finite); string(data) != `{"nanmin":-2.5,"nanmax":3,"nanmean":0.25,"nanstd":1}` {
		t.Errorf("bad JSON for finite stats: %s\n", data)
	}
	if err := json.Unmarshal([]byte(`{"nanmin":"big"}`), &back); err == nil {
		t.Errorf("expected error decoding unknown statistic string\n")
	}
}
