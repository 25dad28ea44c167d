package queue

import (
	"math"

	"github.com/mikey/sortana/internal/core"
)

// Stats is the reported view of job timings, in milliseconds
type Stats struct {
	Count   int64   `json:"count"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Total   float64 `json:"total"`
	Last    float64 `json:"last"`
	Current float64 `json:"current"`
}

// AddSample folds one elapsed time into the running aggregate using Welford's algorithm
func AddSample(s *core.TimingStats, ms float64) {
	s.Count++
	delta := ms - s.Mean
	s.Mean += delta / float64(s.Count)
	s.M2 += delta * (ms - s.Mean)
	s.Total += ms
	s.Last = ms
}

// StdDev is the sample standard deviation of the aggregate
func StdDev(s core.TimingStats) float64 {
	if s.Count < 2 {
		return 0
	}
	return math.Sqrt(s.M2 / float64(s.Count-1))
}

func summarize(s core.TimingStats, current float64) Stats {
	return Stats{
		Count:   s.Count,
		Mean:    s.Mean,
		StdDev:  StdDev(s),
		Total:   s.Total,
		Last:    s.Last,
		Current: current,
	}
}
