package organizer

import (
	"cmp"
	"slices"
	"time"

	"github.com/hpungsan/promptorg/internal/library"
)

// SelectCandidates filters and ranks the library for one run.
//
// Prompts flagged ExcludeFromOrganizer, last executed before now minus
// PeriodDays (or never executed), or executed fewer than MinExecutionCount
// times are dropped. The rest are ordered by ExecutionCount descending
// (ties: most recently executed first, then library order) and cut to
// MaxPrompts. An empty result is valid.
func SelectCandidates(prompts []library.Prompt, settings Settings, now time.Time) []CandidateInput {
	cutoff := now.Add(-time.Duration(settings.PeriodDays) * 24 * time.Hour)

	kept := make([]library.Prompt, 0, len(prompts))
	for _, p := range prompts {
		if p.ExcludeFromOrganizer {
			continue
		}
		if p.LastExecutedAt.IsZero() || p.LastExecutedAt.Before(cutoff) {
			continue
		}
		if p.ExecutionCount < settings.MinExecutionCount {
			continue
		}
		kept = append(kept, p)
	}

	slices.SortStableFunc(kept, func(a, b library.Prompt) int {
		if c := cmp.Compare(b.ExecutionCount, a.ExecutionCount); c != 0 {
			return c
		}
		return b.LastExecutedAt.Compare(a.LastExecutedAt)
	})

	if settings.MaxPrompts >= 0 && len(kept) > settings.MaxPrompts {
		kept = kept[:settings.MaxPrompts]
	}

	out := make([]CandidateInput, len(kept))
	for i, p := range kept {
		out[i] = CandidateInput{
			ID:             p.ID,
			Name:           p.Name,
			Content:        p.Content,
			ExecutionCount: p.ExecutionCount,
		}
	}
	return out
}
