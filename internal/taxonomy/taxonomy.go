// Package taxonomy parses a hierarchical category list and answers the
// lookups the classifier needs: top-level categories, leaves, and the
// full path for a leaf name.
//
// The source is a text file whose first line is a header. Every other
// non-empty line is a full category path with segments joined by " > ",
// listed depth-first so that a category is immediately followed by its
// first child when it has any.
package taxonomy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Separator joins the segments of a category path.
const Separator = " > "

// ErrSource is matched by errors.Is for any failure to obtain the
// taxonomy text.
var ErrSource = errors.New("taxonomy source unavailable")

// SourceError reports that the taxonomy text could not be read.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("taxonomy source %q: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrSource }

// NodeID addresses a node in the taxonomy tree. The root is always 0.
type NodeID int32

// Root is the synthetic node above all top-level categories.
const Root NodeID = 0

type node struct {
	label    string
	parent   NodeID
	leaf     bool
	children []NodeID
	byLabel  map[string]NodeID
}

// Taxonomy is immutable once built and safe for concurrent readers.
type Taxonomy struct {
	nodes []node

	paths    []string
	isLeaf   []bool
	pathNode []NodeID

	l1s        []string
	l1Set      map[string]struct{}
	leafNames  []string
	leafToL1   map[string]string
	leafToL2   map[string]string
	leafToPath map[string]string
	leavesByL1 map[string][]string
	collisions map[string]int
}

// Load reads and indexes the taxonomy file at path.
func Load(path string) (*Taxonomy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SourceError{Source: path, Err: err}
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse indexes taxonomy text read from r. name is used in errors only.
func Parse(r io.Reader, name string) (*Taxonomy, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var raw []string
	for sc.Scan() {
		raw = append(raw, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, &SourceError{Source: name, Err: err}
	}
	return build(pathLines(raw)), nil
}

// Build indexes already-read taxonomy text. Unlike Parse it has no line
// length limit, so it cannot fail.
func Build(text string) *Taxonomy {
	return build(pathLines(strings.Split(text, "\n")))
}

// pathLines drops the header line and blank lines and trims the rest.
func pathLines(raw []string) []string {
	var lines []string
	for i, line := range raw {
		if i == 0 {
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func build(lines []string) *Taxonomy {
	t := &Taxonomy{
		nodes:      []node{{parent: -1, byLabel: map[string]NodeID{}}},
		paths:      lines,
		isLeaf:     make([]bool, len(lines)),
		pathNode:   make([]NodeID, len(lines)),
		l1Set:      map[string]struct{}{},
		leafToL1:   map[string]string{},
		leafToL2:   map[string]string{},
		leafToPath: map[string]string{},
		leavesByL1: map[string][]string{},
		collisions: map[string]int{},
	}

	for i, line := range lines {
		leaf := i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], line+Separator)
		t.isLeaf[i] = leaf
		t.pathNode[i] = t.insert(Split(line), leaf)
	}

	seenLeaf := map[string]struct{}{}
	seenUnder := map[string]map[string]struct{}{}
	for i, line := range lines {
		if !t.isLeaf[i] {
			continue
		}
		parts := Split(line)
		l1, name := parts[0], parts[len(parts)-1]

		if _, ok := t.l1Set[l1]; !ok {
			t.l1Set[l1] = struct{}{}
			t.l1s = append(t.l1s, l1)
		}
		if _, ok := seenLeaf[name]; ok {
			t.collisions[name]++
		} else {
			seenLeaf[name] = struct{}{}
			t.leafNames = append(t.leafNames, name)
		}

		// Later occurrences overwrite earlier ones.
		t.leafToL1[name] = l1
		t.leafToPath[name] = line
		if len(parts) > 1 {
			t.leafToL2[name] = parts[1]
		} else {
			delete(t.leafToL2, name)
		}

		under := seenUnder[l1]
		if under == nil {
			under = map[string]struct{}{}
			seenUnder[l1] = under
		}
		if _, ok := under[name]; !ok {
			under[name] = struct{}{}
			t.leavesByL1[l1] = append(t.leavesByL1[l1], name)
		}
	}
	return t
}

// insert walks parts from the root, creating missing intermediate nodes as
// non-leaf. The terminal node takes the leaf flag of the current line.
func (t *Taxonomy) insert(parts []string, leaf bool) NodeID {
	cur := Root
	for depth, label := range parts {
		id, ok := t.nodes[cur].byLabel[label]
		if !ok {
			id = NodeID(len(t.nodes))
			t.nodes = append(t.nodes, node{label: label, parent: cur, byLabel: map[string]NodeID{}})
			t.nodes[cur].byLabel[label] = id
			t.nodes[cur].children = append(t.nodes[cur].children, id)
		}
		if depth == len(parts)-1 {
			t.nodes[id].leaf = leaf
		}
		cur = id
	}
	return cur
}

// Split breaks a full path into its trimmed segments.
func Split(path string) []string {
	parts := strings.Split(path, Separator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Len is the number of indexed paths.
func (t *Taxonomy) Len() int { return len(t.paths) }

// Path returns the i-th path in source order.
func (t *Taxonomy) Path(i int) string { return t.paths[i] }

// IsLeaf reports whether the i-th path was marked as a leaf.
func (t *Taxonomy) IsLeaf(i int) bool { return t.isLeaf[i] }

// Paths returns a copy of every indexed path in source order.
func (t *Taxonomy) Paths() []string { return append([]string(nil), t.paths...) }

// L1Categories lists the first segment of every leaf path, in order of
// first appearance.
func (t *Taxonomy) L1Categories() []string { return append([]string(nil), t.l1s...) }

// IsL1 reports whether name is a top-level category that has leaves.
func (t *Taxonomy) IsL1(name string) bool {
	_, ok := t.l1Set[name]
	return ok
}

// LeafNames lists each distinct leaf name once, in order of first
// appearance.
func (t *Taxonomy) LeafNames() []string { return append([]string(nil), t.leafNames...) }

// LeafL1 returns the top-level category of the last path ending in leaf.
func (t *Taxonomy) LeafL1(leaf string) (string, bool) {
	l1, ok := t.leafToL1[leaf]
	return l1, ok
}

// LeafL2 returns the second segment of the last path ending in leaf.
// Leaves sitting directly under the root have none.
func (t *Taxonomy) LeafL2(leaf string) (string, bool) {
	l2, ok := t.leafToL2[leaf]
	return l2, ok
}

// LeafPath returns the last full path ending in leaf.
func (t *Taxonomy) LeafPath(leaf string) (string, bool) {
	p, ok := t.leafToPath[leaf]
	return p, ok
}

// LeavesUnder lists the distinct leaf names found under the given top-level
// categories, grouped by category in argument order.
func (t *Taxonomy) LeavesUnder(l1s ...string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, l1 := range l1s {
		for _, name := range t.leavesByL1[l1] {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Collisions maps each leaf name that ends more than one path to the number
// of extra occurrences.
func (t *Taxonomy) Collisions() map[string]int {
	out := make(map[string]int, len(t.collisions))
	for k, v := range t.collisions {
		out[k] = v
	}
	return out
}

// Find returns the tree node for a full path.
func (t *Taxonomy) Find(path string) (NodeID, bool) {
	cur := Root
	for _, label := range Split(path) {
		id, ok := t.nodes[cur].byLabel[label]
		if !ok {
			return 0, false
		}
		cur = id
	}
	return cur, cur != Root
}

// PathNode returns the tree node created for the i-th path.
func (t *Taxonomy) PathNode(i int) NodeID { return t.pathNode[i] }

// Label is the segment text of a node. The root has an empty label.
func (t *Taxonomy) Label(id NodeID) string { return t.nodes[id].label }

// Parent returns the parent of id; the root has no parent.
func (t *Taxonomy) Parent(id NodeID) (NodeID, bool) {
	p := t.nodes[id].parent
	return p, p >= 0
}

// Children lists the direct children of id in insertion order.
func (t *Taxonomy) Children(id NodeID) []NodeID {
	return append([]NodeID(nil), t.nodes[id].children...)
}

// NodeIsLeaf reports the leaf flag stored on a node.
func (t *Taxonomy) NodeIsLeaf(id NodeID) bool { return t.nodes[id].leaf }

// NodeCount includes the root.
func (t *Taxonomy) NodeCount() int { return len(t.nodes) }

// Stats summarizes the index for display.
type Stats struct {
	Paths      int
	Leaves     int
	LeafNames  int
	L1         int
	Nodes      int
	Collisions int
	MaxDepth   int
}

func (t *Taxonomy) Stats() Stats {
	s := Stats{
		Paths:      len(t.paths),
		LeafNames:  len(t.leafNames),
		L1:         len(t.l1s),
		Nodes:      len(t.nodes) - 1,
		Collisions: len(t.collisions),
	}
	for i, p := range t.paths {
		if t.isLeaf[i] {
			s.Leaves++
		}
		if d := len(Split(p)); d > s.MaxDepth {
			s.MaxDepth = d
		}
	}
	return s
}
