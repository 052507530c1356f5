// Package analytics computes summary statistics over stored runs.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/circuitsmith/circuitsmith/internal/pipeline"
)

// Summary aggregates the state of a set of runs.
type Summary struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	Approved  int            `json:"approved_with_caveats"`
	AvgStages float64        `json:"avg_stages"`
}

// Summarize computes a Summary over runs.
func Summarize(runs []pipeline.Run) Summary {
	s := Summary{ByStatus: make(map[string]int)}
	var stages int
	for _, r := range runs {
		s.Total++
		s.ByStatus[string(r.Status)]++
		if r.Approval != nil {
			s.Approved++
		}
		stages += len(r.StageHistory)
	}
	if s.Total > 0 {
		s.AvgStages = round1(float64(stages) / float64(s.Total))
	}
	return s
}

// StageDuration holds duration stats for one stage across runs.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// StageDurations returns per-stage duration stats from run histories,
// ordered by the pipeline's forward path. Stages off the forward path
// (the correction stages) sort after it, by name.
func StageDurations(runs []pipeline.Run) []StageDuration {
	byStage := make(map[string][]float64)
	for _, r := range runs {
		for _, e := range r.StageHistory {
			d, err := time.ParseDuration(e.Duration)
			if err != nil || d <= 0 {
				continue
			}
			byStage[string(e.Stage)] = append(byStage[string(e.Stage)], d.Seconds())
		}
	}

	var results []StageDuration
	for stage, durations := range byStage {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   round1(avg(durations)),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}
	rank := forwardRank()
	sort.Slice(results, func(i, j int) bool {
		ri, iOnPath := rank[results[i].Stage]
		rj, jOnPath := rank[results[j].Stage]
		if iOnPath != jOnPath {
			return iOnPath
		}
		if iOnPath && ri != rj {
			return ri < rj
		}
		return results[i].Stage < results[j].Stage
	})
	return results
}

// forwardRank indexes the canonical stage sequence.
func forwardRank() map[string]int {
	rank := make(map[string]int)
	i := 0
	for s := pipeline.StagePlan; s != ""; s = s.Next() {
		rank[string(s)] = i
		i++
	}
	return rank
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return round1(sorted[lower])
	}
	weight := rank - float64(lower)
	return round1(sorted[lower]*(1-weight) + sorted[upper]*weight)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
