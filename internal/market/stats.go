package market

import (
	"math"
	"sort"
)

// ScoreAggregate summarises the peer cooperation ratings one agent received
// in a report sub-round. Self-assessment is kept out of the distribution and
// reported separately.
type ScoreAggregate struct {
	Mean           float64  `json:"mean"`
	Median         float64  `json:"median"`
	StdDev         float64  `json:"std_dev"`
	Min            float64  `json:"min"`
	Max            float64  `json:"max"`
	Count          int      `json:"count"`
	SelfAssessment *float64 `json:"self_assessment"`
}

// aggregateScores folds raw reports (rater -> ratee -> score, with "self"
// resolving to the rater) into per-ratee aggregates.
func aggregateScores(raw map[string]map[string]float64) map[string]ScoreAggregate {
	peer := make(map[string][]float64)
	self := make(map[string]float64)
	hasSelf := make(map[string]bool)

	for rater, scores := range raw {
		for ratee, score := range scores {
			if ratee == "self" || ratee == rater {
				self[rater] = score
				hasSelf[rater] = true
				continue
			}
			peer[ratee] = append(peer[ratee], score)
		}
	}

	out := make(map[string]ScoreAggregate)
	for ratee, scores := range peer {
		agg := ScoreAggregate{
			Mean:   mean(scores),
			Median: median(scores),
			StdDev: stdDev(scores),
			Min:    minOf(scores),
			Max:    maxOf(scores),
			Count:  len(scores),
		}
		if hasSelf[ratee] {
			s := self[ratee]
			agg.SelfAssessment = &s
		}
		out[ratee] = agg
	}
	// An agent that rated only itself still appears, with an empty distribution.
	for rater, ok := range hasSelf {
		if !ok {
			continue
		}
		if _, seen := out[rater]; !seen {
			s := self[rater]
			out[rater] = ScoreAggregate{SelfAssessment: &s}
		}
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// stdDev is the population standard deviation.
func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func minOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
