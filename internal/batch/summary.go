package batch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"taxonav/internal/navigator"
)

const maxListedFailures = 5

type LeafCount struct {
	Leaf  string
	Count int
}

// Summary aggregates a run's outcomes.
type Summary struct {
	Total      int
	Classified int
	Failed     int
	Cached     int
	Skipped    int
	Elapsed    time.Duration
	TopLeaves  []LeafCount
	// FailedTitles lists the first few failed products by title.
	FailedTitles []string
}

func Summarize(outcomes []Outcome, elapsed time.Duration) Summary {
	s := Summary{Total: len(outcomes), Elapsed: elapsed}
	counts := map[string]int{}
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			s.Skipped++
			continue
		case o.Result.Failed():
			s.Failed++
			if len(s.FailedTitles) < maxListedFailures {
				s.FailedTitles = append(s.FailedTitles, Title(o.Product))
			}
		default:
			s.Classified++
			counts[o.Result.Leaf()]++
		}
		if o.Cached {
			s.Cached++
		}
	}
	for leaf, n := range counts {
		s.TopLeaves = append(s.TopLeaves, LeafCount{Leaf: leaf, Count: n})
	}
	sort.Slice(s.TopLeaves, func(i, j int) bool {
		if s.TopLeaves[i].Count != s.TopLeaves[j].Count {
			return s.TopLeaves[i].Count > s.TopLeaves[j].Count
		}
		return s.TopLeaves[i].Leaf < s.TopLeaves[j].Leaf
	})
	if len(s.TopLeaves) > 3 {
		s.TopLeaves = s.TopLeaves[:3]
	}
	return s
}

func FormatSummary(s Summary) string {
	if s.Total == 0 {
		return "No products to classify."
	}
	if s.Classified == 0 && s.Failed == 0 {
		return fmt.Sprintf("Classification canceled before any of %d products ran.", s.Total)
	}

	parts := []string{fmt.Sprintf("%d classified", s.Classified)}
	if s.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.Failed))
	}
	if s.Cached > 0 {
		parts = append(parts, fmt.Sprintf("%d cached", s.Cached))
	}
	if s.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", s.Skipped))
	}
	msg := fmt.Sprintf("Processed %d products in %s: %s",
		s.Total, s.Elapsed.Round(100*time.Millisecond), strings.Join(parts, ", "))

	if len(s.TopLeaves) > 0 {
		var top []string
		for _, lc := range s.TopLeaves {
			top = append(top, fmt.Sprintf("%s (%d)", lc.Leaf, lc.Count))
		}
		msg += fmt.Sprintf("\nTop categories: %s", strings.Join(top, ", "))
	}
	if len(s.FailedTitles) > 0 {
		msg += fmt.Sprintf("\nUnclassified (%s):\n%s", navigator.FailureLabel, strings.Join(s.FailedTitles, "\n"))
	}
	return msg
}
