package chunk

import (
	"encoding/json"
	"fmt"
	"math"
	"runtime"

	"github.com/ndvserve/ndv/ndv"

	"golang.org/x/sync/errgroup"
)

// StatsChunkElements is the number of elements summarized by each worker
// before partial results are merged.
var StatsChunkElements = 1 << 18

// Stats are NaN-ignoring summary statistics.  Fields are NaN when there are no
// non-NaN elements.
type Stats struct {
	Min  float64
	Max  float64
	Mean float64
	Std  float64 // population standard deviation

	Count int // number of non-NaN elements
}

type statsJSON struct {
	Min  interface{} `json:"nanmin"`
	Max  interface{} `json:"nanmax"`
	Mean interface{} `json:"nanmean"`
	Std  interface{} `json:"nanstd"`
}

// statValue is null when there are no values and "Infinity" or "-Infinity" for
// infinite values.
func statValue(f float64) interface{} {
	if math.IsNaN(f) {
		return nil
	}
	return jsonFloat(f)
}

// MarshalJSON writes NaN as null and infinities as strings.
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(statsJSON{statValue(s.Min), statValue(s.Max), statValue(s.Mean), statValue(s.Std)})
}

func (s *Stats) UnmarshalJSON(b []byte) error {
	var sj statsJSON
	if err := json.Unmarshal(b, &sj); err != nil {
		return err
	}
	vals := make([]float64, 4)
	for i, v := range []interface{}{sj.Min, sj.Max, sj.Mean, sj.Std} {
		switch x := v.(type) {
		case nil:
			vals[i] = math.NaN()
		case float64:
			vals[i] = x
		case string:
			switch x {
			case JSONInf:
				vals[i] = math.Inf(1)
			case JSONNegInf:
				vals[i] = math.Inf(-1)
			case JSONNaN:
				vals[i] = math.NaN()
			default:
				return fmt.Errorf("bad statistic %q", x)
			}
		default:
			return fmt.Errorf("bad statistic %v", v)
		}
	}
	s.Min, s.Max, s.Mean, s.Std = vals[0], vals[1], vals[2], vals[3]
	return nil
}

// partial holds running moments for part of an array.
type partial struct {
	n        int
	mean, m2 float64
	min, max float64
}

func summarize(arr *ndv.Array, begin, end int) partial {
	p := partial{min: math.Inf(1), max: math.Inf(-1)}
	for i := begin; i < end; i++ {
		v := arr.Float64At(i)
		if math.IsNaN(v) {
			continue
		}
		p.n++
		delta := v - p.mean
		p.mean += delta / float64(p.n)
		p.m2 += delta * (v - p.mean)
		if v < p.min {
			p.min = v
		}
		if v > p.max {
			p.max = v
		}
	}
	return p
}

// merge combines the moments of two disjoint partitions.
func merge(a, b partial) partial {
	if a.n == 0 {
		return b
	}
	if b.n == 0 {
		return a
	}
	n := a.n + b.n
	delta := b.mean - a.mean
	out := partial{
		n:    n,
		mean: a.mean + delta*float64(b.n)/float64(n),
		m2:   a.m2 + b.m2 + delta*delta*float64(a.n)*float64(b.n)/float64(n),
		min:  math.Min(a.min, b.min),
		max:  math.Max(a.max, b.max),
	}
	return out
}

// ComputeStats returns the NaN-ignoring min, max, mean and standard deviation of
// the array.  Large arrays are summarized in parallel.
func ComputeStats(arr *ndv.Array) (Stats, error) {
	if !arr.DType.Numeric() {
		return Stats{}, fmt.Errorf("%w: can't compute statistics of %s data", ErrNotNumeric, arr.DType)
	}
	n := arr.NumElements()
	size := StatsChunkElements
	if size < 1 {
		size = n
	}
	numChunks := 0
	if n > 0 {
		numChunks = (n + size - 1) / size
	}
	parts := make([]partial, numChunks)
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for c := 0; c < numChunks; c++ {
		begin := c * size
		end := begin + size
		if end > n {
			end = n
		}
		g.Go(func() error {
			parts[c] = summarize(arr, begin, end)
			return nil
		})
	}
	g.Wait()

	var total partial
	for _, p := range parts {
		total = merge(total, p)
	}
	if total.n == 0 {
		nan := math.NaN()
		return Stats{Min: nan, Max: nan, Mean: nan, Std: nan}, nil
	}
	return Stats{
		Min:   total.min,
		Max:   total.max,
		Mean:  total.mean,
		Std:   math.Sqrt(total.m2 / float64(total.n)),
		Count: total.n,
	}, nil
}
