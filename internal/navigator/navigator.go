// Package navigator classifies a product by walking the taxonomy in three
// oracle-driven stages: pick top-level categories, pick candidate leaves
// under each, then pick the single best leaf.
package navigator

import (
	"context"
	"fmt"
	"strings"

	"taxonav/internal/oracle"
	"taxonav/internal/prompt"
	"taxonav/internal/selector"
	"taxonav/internal/taxonomy"
	"taxonav/internal/telemetry"
)

// FailureLabel is the only segment of the path returned when
// classification fails.
const FailureLabel = "False"

const (
	DefaultL1Fanout                = 2
	DefaultLeafChunkSize           = 15
	DefaultFinalSelectionThreshold = 1
)

// Options tunes a Navigator. Zero values take the defaults.
type Options struct {
	// L1Fanout is how many top-level categories are explored.
	L1Fanout int
	// LeafChunkSize is how many leaves each branch may contribute.
	LeafChunkSize int
	// FinalSelectionThreshold: when the combined candidate list has at most
	// this many entries the first one is taken without asking.
	FinalSelectionThreshold int
	UnparseablePolicy       selector.Policy
	Observer                telemetry.Observer

	L1Prompter    selector.NarrowPrompter
	LeafPrompter  selector.NarrowPrompter
	FinalPrompter selector.FinalPrompter
}

func (o Options) withDefaults(tax *taxonomy.Taxonomy) Options {
	if o.L1Fanout < 1 {
		o.L1Fanout = DefaultL1Fanout
	}
	if o.LeafChunkSize < 1 {
		o.LeafChunkSize = DefaultLeafChunkSize
	}
	if o.FinalSelectionThreshold < 1 {
		o.FinalSelectionThreshold = DefaultFinalSelectionThreshold
	}
	o.Observer = telemetry.OrNop(o.Observer)
	if o.L1Prompter == nil {
		o.L1Prompter = prompt.L1{}
	}
	if o.LeafPrompter == nil {
		o.LeafPrompter = prompt.Leaf{L1Of: tax.LeafL1}
	}
	if o.FinalPrompter == nil {
		o.FinalPrompter = prompt.Final{}
	}
	return o
}

// Result holds candidate paths and the index of the chosen one.
type Result struct {
	Paths [][]string
	Best  int
	Trace Trace
}

// Trace exposes what each stage produced, for display and auditing.
type Trace struct {
	L1s      []string
	Branches [][]string
	Combined []string
	Stage    telemetry.Stage
	Reason   string
}

// Failure is the canonical failed result.
func Failure() Result {
	return Result{Paths: [][]string{{FailureLabel}}, Best: 0}
}

func (r Result) Failed() bool {
	return len(r.Paths) == 1 && len(r.Paths[0]) == 1 && r.Paths[0][0] == FailureLabel
}

// BestPath returns the chosen path, or nil for a failed result.
func (r Result) BestPath() []string {
	if r.Failed() || r.Best < 0 || r.Best >= len(r.Paths) {
		return nil
	}
	return r.Paths[r.Best]
}

// Leaf returns the chosen leaf name, or FailureLabel.
func (r Result) Leaf() string {
	p := r.BestPath()
	if len(p) == 0 {
		return FailureLabel
	}
	return p[len(p)-1]
}

// Navigator is safe for concurrent use when its oracles are.
type Navigator struct {
	tax  *taxonomy.Taxonomy
	opts Options

	l1    *selector.Narrowing
	leaf  *selector.Narrowing
	final *selector.Final
}

// New builds a Navigator. narrow serves both narrowing stages; final serves
// the last pick and may be the same oracle.
func New(tax *taxonomy.Taxonomy, narrow, final oracle.Oracle, opts Options) *Navigator {
	opts = opts.withDefaults(tax)
	if final == nil {
		final = narrow
	}
	return &Navigator{
		tax:  tax,
		opts: opts,
		l1: &selector.Narrowing{
			Oracle:   narrow,
			Prompter: opts.L1Prompter,
			Guard:    tax.IsL1,
			Observer: opts.Observer,
			Stage:    telemetry.StageL1,
		},
		leaf: &selector.Narrowing{
			Oracle:   narrow,
			Prompter: opts.LeafPrompter,
			Guard: func(label string) bool {
				_, ok := tax.LeafL1(label)
				return ok
			},
			Observer: opts.Observer,
			Stage:    telemetry.StageLeaf,
		},
		final: &selector.Final{
			Oracle:   final,
			Prompter: opts.FinalPrompter,
			Policy:   opts.UnparseablePolicy,
			Observer: opts.Observer,
		},
	}
}

func (n *Navigator) Options() Options { return n.opts }

// Classify never returns an error; every failure yields Failure() with the
// trace recording where it stopped.
func (n *Navigator) Classify(ctx context.Context, product string) Result {
	var tr Trace
	stop := func(stage telemetry.Stage, reason string) Result {
		tr.Stage, tr.Reason = stage, reason
		r := Failure()
		r.Trace = tr
		return r
	}
	fail := func(stage telemetry.Stage, reason string) Result {
		n.opts.Observer.Observe(telemetry.Event{Stage: stage, Kind: telemetry.Failed, Product: product, Detail: reason})
		return stop(stage, reason)
	}

	// L1_SELECT
	if err := ctx.Err(); err != nil {
		return fail(telemetry.StageL1, err.Error())
	}
	l1 := n.l1.Select(ctx, product, n.tax.L1Categories(), n.opts.L1Fanout, nil)
	tr.L1s = l1.Labels
	if len(l1.Labels) == 0 {
		return fail(telemetry.StageL1, "no top-level category selected")
	}

	// LEAF_SELECT, one branch per selected category.
	var combined []string
	for i := 0; i < n.opts.L1Fanout; i++ {
		if i >= len(l1.Labels) {
			n.opts.Observer.Observe(telemetry.Event{Stage: telemetry.StageLeaf, Kind: telemetry.Skipped, Product: product, Branch: i, Detail: "no category for branch"})
			continue
		}
		if err := ctx.Err(); err != nil {
			return fail(telemetry.StageLeaf, err.Error())
		}
		cat := l1.Labels[i]
		sel := n.leaf.Select(ctx, product, n.tax.LeavesUnder(cat), n.opts.LeafChunkSize, combined)
		tr.Branches = append(tr.Branches, sel.Labels)
		combined = append(combined, sel.Labels...)
	}

	// COMBINE
	tr.Combined = combined
	if len(combined) == 0 {
		return fail(telemetry.StageCombine, "no leaf selected in any branch")
	}
	n.opts.Observer.Observe(telemetry.Event{Stage: telemetry.StageCombine, Kind: telemetry.Completed, Product: product, Accepted: len(combined)})

	// FINAL_SELECT
	best := 0
	if len(combined) > n.opts.FinalSelectionThreshold {
		if err := ctx.Err(); err != nil {
			return fail(telemetry.StageFinal, err.Error())
		}
		best = n.final.SelectBest(ctx, product, combined)
		if best < 0 {
			// The final selector has already reported the failure.
			return stop(telemetry.StageFinal, "no valid final choice")
		}
	} else {
		n.opts.Observer.Observe(telemetry.Event{Stage: telemetry.StageFinal, Kind: telemetry.Skipped, Product: product, Offered: len(combined), Label: combined[0]})
	}

	// RESOLVE_PATH
	paths := make([][]string, len(combined))
	for i, label := range combined {
		full, ok := n.tax.LeafPath(label)
		if !ok {
			return fail(telemetry.StageResolve, fmt.Sprintf("no path for leaf %q", label))
		}
		paths[i] = taxonomy.Split(full)
	}
	chosen := paths[best]
	if chosen[len(chosen)-1] != combined[best] {
		return fail(telemetry.StageResolve, fmt.Sprintf("path %q does not end in %q", strings.Join(chosen, taxonomy.Separator), combined[best]))
	}

	tr.Stage = telemetry.StageDone
	n.opts.Observer.Observe(telemetry.Event{Stage: telemetry.StageDone, Kind: telemetry.Completed, Product: product, Label: combined[best], Offered: len(combined)})
	return Result{Paths: paths, Best: best, Trace: tr}
}
