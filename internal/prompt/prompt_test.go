package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestL1PromptListsCandidatesOnePerLine(t *testing.T) {
	system, user := L1{}.NarrowPrompt("Red running shoe", []string{"Apparel", "Toys"}, 2)

	assert.Contains(t, system, "exact spelling")
	assert.True(t, strings.HasPrefix(user, "Product: Red running shoe\n\n"))
	assert.Contains(t, user, "Select exactly 2 categories")
	assert.Contains(t, user, "\nApparel\nToys\n")
}

func TestL1PromptSingular(t *testing.T) {
	_, user := L1{}.NarrowPrompt("x", []string{"A"}, 1)
	assert.Contains(t, user, "Select exactly 1 category from")
}

func TestLeafPromptCarriesContext(t *testing.T) {
	l1s := map[string]string{"Shoes": "Apparel"}
	p := Leaf{L1Of: func(leaf string) (string, bool) {
		v, ok := l1s[leaf]
		return v, ok
	}}
	_, user := p.NarrowPrompt("boot", []string{"Shoes", "Mystery"}, 15)

	assert.Contains(t, user, "Shoes (L1: Apparel)\nMystery (L1: Unknown)")
	assert.Contains(t, user, "without the L1 context")
}

func TestLeafNormalizeLine(t *testing.T) {
	cases := map[string]string{
		"Shoes (L1: Apparel)":    "Shoes",
		"Shoes":                  "Shoes",
		"Shirts & Tops  (L1: X)": "Shirts & Tops",
		"":                       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Leaf{}.NormalizeLine(in), in)
	}
}

func TestFinalPromptNumbersFromOne(t *testing.T) {
	system, user := Final{}.FinalPrompt("boot", []string{"Boots", "Sneakers", "Sandals"})

	assert.Contains(t, system, "by its number")
	assert.Contains(t, user, "1. Boots\n2. Sneakers\n3. Sandals\n")
	assert.True(t, strings.HasSuffix(user, "between 1 and 3."))
}
