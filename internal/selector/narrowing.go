// Package selector asks the oracle to narrow a candidate list and to pick a
// single best candidate, and checks every answer against what was offered.
package selector

import (
	"context"
	"strings"

	"taxonav/internal/oracle"
	"taxonav/internal/telemetry"
)

// NarrowPrompter renders the request for up to k labels out of candidates.
type NarrowPrompter interface {
	NarrowPrompt(product string, candidates []string, k int) (system, user string)
}

// LineNormalizer is implemented by prompters that decorate candidates and
// need the decoration removed from answer lines before validation.
type LineNormalizer interface {
	NormalizeLine(line string) string
}

// Narrowing selects up to k labels from a candidate set.
type Narrowing struct {
	Oracle   oracle.Oracle
	Prompter NarrowPrompter
	// Guard drops accepted labels the taxonomy cannot place. Nil keeps all.
	Guard    func(label string) bool
	Observer telemetry.Observer
	Stage    telemetry.Stage
}

// Selection is the outcome of one narrowing call.
type Selection struct {
	Labels []string
	// Offered is the size of the candidate set after exclusion.
	Offered int
	// Rejected counts answer lines that named no offered candidate.
	Rejected int
	// Unplaced counts valid labels removed by the guard.
	Unplaced int
	// Degraded is set when the oracle failed and the first candidates were
	// used instead.
	Degraded bool
	Called   bool
}

// Select never fails: a transport error degrades to the first k offered
// candidates in order.
func (n *Narrowing) Select(ctx context.Context, product string, candidates []string, k int, excluded []string) Selection {
	obs := telemetry.OrNop(n.Observer)

	effective := subtract(candidates, excluded)
	sel := Selection{Offered: len(effective)}
	if len(effective) == 0 || k < 1 {
		obs.Observe(telemetry.Event{Stage: n.Stage, Kind: telemetry.Skipped, Product: product, Offered: len(effective)})
		return sel
	}
	obs.Observe(telemetry.Event{Stage: n.Stage, Kind: telemetry.Started, Product: product, Offered: len(effective)})

	system, user := n.Prompter.NarrowPrompt(product, effective, k)
	sel.Called = true
	text, err := n.Oracle.Complete(ctx, system, user)
	if err != nil {
		sel.Degraded = true
		sel.Labels = firstN(effective, k)
		obs.Observe(telemetry.Event{Stage: n.Stage, Kind: telemetry.Degraded, Product: product, Offered: len(effective), Accepted: len(sel.Labels), Err: err})
		return sel
	}

	valid := make(map[string]struct{}, len(effective))
	for _, c := range effective {
		valid[c] = struct{}{}
	}

	var accepted, rejected []string
	for _, line := range answerLines(text, n.Prompter) {
		if _, ok := valid[line]; !ok {
			rejected = append(rejected, line)
			continue
		}
		accepted = append(accepted, line)
	}
	sel.Rejected = len(rejected)
	if len(rejected) > 0 {
		obs.Observe(telemetry.Event{
			Stage:    n.Stage,
			Kind:     telemetry.Hallucination,
			Product:  product,
			Rejected: len(rejected),
			Detail:   strings.Join(rejected, " | "),
		})
	}

	sel.Labels = n.guard(firstN(accepted, k), &sel)
	obs.Observe(telemetry.Event{Stage: n.Stage, Kind: telemetry.Completed, Product: product, Offered: len(effective), Accepted: len(sel.Labels), Rejected: sel.Rejected})
	return sel
}

func (n *Narrowing) guard(labels []string, sel *Selection) []string {
	if n.Guard == nil {
		return labels
	}
	out := labels[:0:0]
	for _, l := range labels {
		if n.Guard(l) {
			out = append(out, l)
		} else {
			sel.Unplaced++
		}
	}
	return out
}

// answerLines splits an oracle answer into trimmed, non-empty lines with
// case-insensitive duplicates removed. The first spelling seen wins.
func answerLines(text string, p NarrowPrompter) []string {
	norm, _ := p.(LineNormalizer)
	seen := map[string]struct{}{}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if norm != nil {
			line = strings.TrimSpace(norm.NormalizeLine(line))
		}
		if line == "" {
			continue
		}
		key := strings.ToLower(line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, line)
	}
	return out
}

func subtract(candidates, excluded []string) []string {
	if len(excluded) == 0 {
		return append([]string(nil), candidates...)
	}
	skip := make(map[string]struct{}, len(excluded))
	for _, e := range excluded {
		skip[e] = struct{}{}
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := skip[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		items = items[:n]
	}
	return append([]string(nil), items...)
}
