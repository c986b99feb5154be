// Package telemetry implements the Metrics component: a read-only
// operational-metrics surface generalized from the teacher's own
// GetMetrics, combining the last persisted RunStats with the Pattern
// Registry's top patterns by success rate, for the status CLI command.
package telemetry

import (
	"context"
	"fmt"
	"sort"

	"github.com/codekeeper/crawler/internal/model"
	"github.com/codekeeper/crawler/internal/patterns"
)

// StatsSource supplies the last persisted RunStats, e.g.
// internal/store's LoadRunStats.
type StatsSource interface {
	LoadRunStats(ctx context.Context) (model.RunStats, bool, error)
}

// OperationalMetrics is the status command's payload.
type OperationalMetrics struct {
	LastRun     model.RunStats   `json:"last_run"`
	HasLastRun  bool             `json:"has_last_run"`
	TopPatterns []PatternSummary `json:"top_patterns"`
}

// PatternSummary is a Pattern reduced to its display-relevant fields.
type PatternSummary struct {
	Fingerprint string  `json:"fingerprint"`
	SuccessRate float64 `json:"success_rate"`
	Occurrences int     `json:"occurrences"`
	Active      bool    `json:"active"`
}

// TopPatternCount bounds how many patterns GetMetrics reports.
const TopPatternCount = 10

// GetMetrics assembles the operational snapshot from the last
// persisted Run Stats plus the registry's highest-success-rate
// patterns, mirroring the teacher's GetMetrics but backed by real
// collected state instead of a stub.
func GetMetrics(ctx context.Context, stats StatsSource, registry *patterns.Registry, minOccurrence int) (OperationalMetrics, error) {
	var out OperationalMetrics

	last, ok, err := stats.LoadRunStats(ctx)
	if err != nil {
		return out, fmt.Errorf("telemetry: loading run stats: %w", err)
	}
	out.LastRun = last
	out.HasLastRun = ok

	out.TopPatterns = topPatterns(registry, minOccurrence)
	return out, nil
}

func topPatterns(registry *patterns.Registry, minOccurrence int) []PatternSummary {
	if registry == nil {
		return nil
	}
	compiled := registry.Snapshot()
	summaries := make([]PatternSummary, 0, len(compiled))
	for _, p := range compiled {
		if p.OccurrenceCount < minOccurrence {
			continue
		}
		summaries = append(summaries, PatternSummary{
			Fingerprint: p.Fingerprint,
			SuccessRate: p.SuccessRate(),
			Occurrences: p.OccurrenceCount,
			Active:      p.Active,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].SuccessRate > summaries[j].SuccessRate })
	if len(summaries) > TopPatternCount {
		summaries = summaries[:TopPatternCount]
	}
	return summaries
}
