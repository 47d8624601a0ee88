package taxonomy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# Google_Product_Taxonomy_Version: 2021-09-21
Animals & Pet Supplies
Animals & Pet Supplies > Live Animals
Animals & Pet Supplies > Pet Supplies
Animals & Pet Supplies > Pet Supplies > Bird Supplies
Animals & Pet Supplies > Pet Supplies > Cat Supplies

Apparel & Accessories
Apparel & Accessories > Clothing
Apparel & Accessories > Clothing > Shirts & Tops
Apparel & Accessories > Shoes
Gift Cards
`

func TestBuildMarksLeaves(t *testing.T) {
	tax := Build(sample)

	want := map[string]bool{
		"Animals & Pet Supplies":                               false,
		"Animals & Pet Supplies > Live Animals":                true,
		"Animals & Pet Supplies > Pet Supplies":                false,
		"Animals & Pet Supplies > Pet Supplies > Bird Supplies": true,
		"Animals & Pet Supplies > Pet Supplies > Cat Supplies":  true,
		"Apparel & Accessories":                                false,
		"Apparel & Accessories > Clothing":                     false,
		"Apparel & Accessories > Clothing > Shirts & Tops":     true,
		"Apparel & Accessories > Shoes":                        true,
		"Gift Cards":                                           true,
	}
	require.Equal(t, len(want), tax.Len())
	for i := 0; i < tax.Len(); i++ {
		leaf, ok := want[tax.Path(i)]
		require.True(t, ok, "unexpected path %q", tax.Path(i))
		assert.Equal(t, leaf, tax.IsLeaf(i), tax.Path(i))
	}
}

func TestBuildSkipsHeaderAndBlankLines(t *testing.T) {
	tax := Build("header line\n\n   \n  A > B  \n\n")
	require.Equal(t, 1, tax.Len())
	assert.Equal(t, "A > B", tax.Path(0))
	assert.True(t, tax.IsLeaf(0))
}

func TestBuildHeaderOnly(t *testing.T) {
	tax := Build("only a header\n")
	assert.Equal(t, 0, tax.Len())
	assert.Empty(t, tax.L1Categories())
	assert.Empty(t, tax.LeafNames())
}

func TestL1CategoriesFirstSeenOrder(t *testing.T) {
	tax := Build(sample)
	assert.Equal(t, []string{"Animals & Pet Supplies", "Apparel & Accessories", "Gift Cards"}, tax.L1Categories())
	assert.True(t, tax.IsL1("Gift Cards"))
	assert.False(t, tax.IsL1("Pet Supplies"))
}

func TestTopLevelLineWithoutChildrenIsLeaf(t *testing.T) {
	tax := Build("h\nEmpty\nFull > Item\n")
	assert.Equal(t, []string{"Empty", "Full"}, tax.L1Categories())

	tax = Build("h\nParent\nParent > Child\n")
	assert.Equal(t, []string{"Parent"}, tax.L1Categories())
	assert.Equal(t, []string{"Child"}, tax.LeafNames())
}

func TestLeafLookups(t *testing.T) {
	tax := Build(sample)

	l1, ok := tax.LeafL1("Cat Supplies")
	require.True(t, ok)
	assert.Equal(t, "Animals & Pet Supplies", l1)

	l2, ok := tax.LeafL2("Cat Supplies")
	require.True(t, ok)
	assert.Equal(t, "Pet Supplies", l2)

	p, ok := tax.LeafPath("Shirts & Tops")
	require.True(t, ok)
	assert.Equal(t, "Apparel & Accessories > Clothing > Shirts & Tops", p)

	p, ok = tax.LeafPath("Gift Cards")
	require.True(t, ok)
	assert.Equal(t, "Gift Cards", p)
	_, ok = tax.LeafL2("Gift Cards")
	assert.False(t, ok)

	_, ok = tax.LeafPath("Pet Supplies")
	assert.False(t, ok, "intermediate categories are not leaves")
}

func TestLeafNameCollisionLastWins(t *testing.T) {
	tax := Build(`h
Apparel > Clothing > Accessories
Electronics > Phones > Accessories
Electronics > Phones > Cases
`)
	p, ok := tax.LeafPath("Accessories")
	require.True(t, ok)
	assert.Equal(t, "Electronics > Phones > Accessories", p)

	l1, _ := tax.LeafL1("Accessories")
	assert.Equal(t, "Electronics", l1)

	assert.Equal(t, []string{"Accessories", "Cases"}, tax.LeafNames())
	assert.Equal(t, map[string]int{"Accessories": 1}, tax.Collisions())

	// Both branches still offer the colliding name as a candidate.
	assert.Equal(t, []string{"Accessories"}, tax.LeavesUnder("Apparel"))
	assert.Equal(t, []string{"Accessories", "Cases"}, tax.LeavesUnder("Electronics"))
}

func TestLeavesUnderKeepsArgumentOrderAndDedupes(t *testing.T) {
	tax := Build(sample)
	got := tax.LeavesUnder("Apparel & Accessories", "Animals & Pet Supplies", "Apparel & Accessories", "Missing")
	assert.Equal(t, []string{"Shirts & Tops", "Shoes", "Live Animals", "Bird Supplies", "Cat Supplies"}, got)
}

func TestTreeMirrorsPaths(t *testing.T) {
	tax := Build(sample)

	for i := 0; i < tax.Len(); i++ {
		id, ok := tax.Find(tax.Path(i))
		require.True(t, ok, tax.Path(i))
		assert.Equal(t, tax.PathNode(i), id)
		assert.Equal(t, tax.IsLeaf(i), tax.NodeIsLeaf(id))

		parts := Split(tax.Path(i))
		assert.Equal(t, parts[len(parts)-1], tax.Label(id))

		// Walking parents reproduces the path.
		var labels []string
		for cur := id; cur != Root; {
			labels = append([]string{tax.Label(cur)}, labels...)
			cur, _ = tax.Parent(cur)
		}
		assert.Equal(t, tax.Path(i), strings.Join(labels, Separator))
	}

	assert.Len(t, tax.Children(Root), 3)
	_, ok := tax.Parent(Root)
	assert.False(t, ok)
	_, ok = tax.Find("Apparel & Accessories > Hats")
	assert.False(t, ok)
}

func TestIntermediateNodeCreatedOnDemand(t *testing.T) {
	// The parent line is missing; its node is created as a non-leaf.
	tax := Build("h\nA > B > C\n")
	id, ok := tax.Find("A > B")
	require.True(t, ok)
	assert.False(t, tax.NodeIsLeaf(id))
	assert.Equal(t, 4, tax.NodeCount())
}

func TestStats(t *testing.T) {
	s := Build(sample).Stats()
	assert.Equal(t, Stats{Paths: 10, Leaves: 6, LeafNames: 6, L1: 3, Nodes: 10, Collisions: 0, MaxDepth: 3}, s)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSource))

	var se *SourceError
	require.True(t, errors.As(err, &se))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.txt")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	tax, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, tax.Len())
}

func TestBuildAcceptsOverlongLine(t *testing.T) {
	long := strings.Repeat("x", 2<<20)
	tax := Build("header\nTop\nTop > " + long + "\n")
	require.NotNil(t, tax)
	assert.Equal(t, 2, tax.Len())
	path, ok := tax.LeafPath(long)
	require.True(t, ok)
	assert.Equal(t, "Top > "+long, path)

	_, err := Parse(strings.NewReader("header\nTop > "+long+"\n"), "big")
	assert.ErrorIs(t, err, ErrSource)
}
