// Package prompt assembles the text sent to the oracle at each stage.
// Swapping a prompter changes wording without touching selection logic.
package prompt

import (
	"fmt"
	"strings"
)

const (
	l1System    = "You are a product categorization assistant. Select L1 categories from the provided list using exact spelling."
	leafSystem  = "You are a product categorization assistant. Select categories from the provided list using exact spelling."
	finalSystem = "You are a product categorization assistant. Select the single best matching category by its number."
)

// L1 asks for top-level categories from a plain list.
type L1 struct{}

func (L1) NarrowPrompt(product string, candidates []string, k int) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n\n", product)
	fmt.Fprintf(&b, "Select exactly %d %s from this list that best match the product:\n\n", k, plural(k, "category", "categories"))
	b.WriteString(strings.Join(candidates, "\n"))
	b.WriteString("\n\nReturn one category per line:")
	return l1System, b.String()
}

// contextSuffix precedes the top-level category shown next to each leaf.
const contextSuffix = " (L1:"

// Leaf asks for leaf categories, showing each with its top-level category
// so the oracle can tell same-named leaves apart.
type Leaf struct {
	L1Of func(leaf string) (string, bool)
}

func (p Leaf) NarrowPrompt(product string, candidates []string, k int) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n\n", product)
	fmt.Fprintf(&b, "Select exactly %d %s from this list that best match the product:\n\n", k, plural(k, "category", "categories"))
	for i, c := range candidates {
		if i > 0 {
			b.WriteByte('\n')
		}
		l1 := "Unknown"
		if p.L1Of != nil {
			if v, ok := p.L1Of(c); ok {
				l1 = v
			}
		}
		fmt.Fprintf(&b, "%s%s %s)", c, contextSuffix, l1)
	}
	b.WriteString("\n\nReturn only the category names (without the L1 context), one per line:")
	return leafSystem, b.String()
}

// NormalizeLine drops an echoed " (L1: ...)" decoration.
func (Leaf) NormalizeLine(line string) string {
	if i := strings.Index(line, contextSuffix); i >= 0 {
		return strings.TrimSpace(line[:i])
	}
	return line
}

// Final lists candidates with 1-based numbers and asks for one number.
type Final struct{}

func (Final) FinalPrompt(product string, candidates []string) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n\n", product)
	b.WriteString("IMPORTANT: From amongst the provided options below, select the category that is MOST LIKELY to roughly describe this product.\n")
	b.WriteString("Don't worry about finding a perfect match - just pick the option that seems most likely to be correct.\n")
	b.WriteString("If multiple options seem reasonable, pick the one that feels most probable.\n\n")
	b.WriteString("Available categories:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	b.WriteString("\nReturn ONLY the number of your selection (e.g., \"1\" or \"2\").\n")
	fmt.Fprintf(&b, "The number must be between 1 and %d.", len(candidates))
	return finalSystem, b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
