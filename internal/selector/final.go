package selector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"taxonav/internal/oracle"
	"taxonav/internal/telemetry"
)

// FinalPrompter renders a numbered choice among candidates.
type FinalPrompter interface {
	FinalPrompt(product string, candidates []string) (system, user string)
}

// Policy decides what an answer with no usable number means.
type Policy int

const (
	// PickFirst falls back to the first candidate.
	PickFirst Policy = iota
	// FailUnparseable treats the answer as a failed selection.
	FailUnparseable
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return PickFirst, nil
	case "fail":
		return FailUnparseable, nil
	}
	return PickFirst, fmt.Errorf("unknown unparseable policy %q (want first or fail)", s)
}

func (p Policy) String() string {
	if p == FailUnparseable {
		return "fail"
	}
	return "first"
}

// Outcome records how an answer was interpreted.
type Outcome int

const (
	Parsed Outcome = iota
	Meaningless
	Defaulted
	Unparseable
)

func (o Outcome) String() string {
	switch o {
	case Parsed:
		return "parsed"
	case Meaningless:
		return "meaningless"
	case Defaulted:
		return "defaulted"
	}
	return "unparseable"
}

var (
	digitRun = regexp.MustCompile(`\d+`)

	meaningless = map[string]struct{}{
		"":        {},
		"none":    {},
		"null":    {},
		"error":   {},
		"fail":    {},
		"false":   {},
		"n/a":     {},
		"na":      {},
		"unknown": {},
	}
)

// ParseChoice turns a numeric answer for n candidates into a 0-based index.
// The first digit run wins when it is in range. Known non-answers give -1.
// Anything else follows policy.
func ParseChoice(text string, n int, policy Policy) (int, Outcome) {
	cleaned := strings.ToLower(strings.TrimSpace(text))

	if m := digitRun.FindString(cleaned); m != "" {
		if v, err := strconv.Atoi(m); err == nil && v >= 1 && v <= n {
			return v - 1, Parsed
		}
	}
	if v, err := strconv.Atoi(cleaned); err == nil && v >= 1 && v <= n {
		return v - 1, Parsed
	}
	if _, ok := meaningless[cleaned]; ok {
		return -1, Meaningless
	}
	if policy == FailUnparseable {
		return -1, Unparseable
	}
	return 0, Defaulted
}

// Final picks one candidate by number.
type Final struct {
	Oracle   oracle.Oracle
	Prompter FinalPrompter
	Policy   Policy
	Observer telemetry.Observer
}

// SelectBest returns a 0-based index into candidates, or -1 when nothing
// could be chosen. A single candidate is returned without asking.
func (f *Final) SelectBest(ctx context.Context, product string, candidates []string) int {
	obs := telemetry.OrNop(f.Observer)
	switch len(candidates) {
	case 0:
		obs.Observe(telemetry.Event{Stage: telemetry.StageFinal, Kind: telemetry.Failed, Product: product, Detail: "no candidates"})
		return -1
	case 1:
		obs.Observe(telemetry.Event{Stage: telemetry.StageFinal, Kind: telemetry.Skipped, Product: product, Offered: 1, Label: candidates[0]})
		return 0
	}

	obs.Observe(telemetry.Event{Stage: telemetry.StageFinal, Kind: telemetry.Started, Product: product, Offered: len(candidates)})
	system, user := f.Prompter.FinalPrompt(product, candidates)
	text, err := f.Oracle.Complete(ctx, system, user)
	if err != nil {
		obs.Observe(telemetry.Event{Stage: telemetry.StageFinal, Kind: telemetry.Failed, Product: product, Offered: len(candidates), Err: err})
		return -1
	}

	idx, outcome := ParseChoice(text, len(candidates), f.Policy)
	switch outcome {
	case Parsed:
		obs.Observe(telemetry.Event{Stage: telemetry.StageFinal, Kind: telemetry.Completed, Product: product, Offered: len(candidates), Label: candidates[idx]})
	case Defaulted:
		obs.Observe(telemetry.Event{Stage: telemetry.StageFinal, Kind: telemetry.ParseFallback, Product: product, Offered: len(candidates), Label: candidates[idx], Detail: text})
	default:
		obs.Observe(telemetry.Event{Stage: telemetry.StageFinal, Kind: telemetry.Failed, Product: product, Offered: len(candidates), Detail: outcome.String() + ": " + text})
	}
	return idx
}
