// Package batch classifies many products concurrently and summarizes the run.
package batch

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
)

// ReadProducts returns one product per non-empty line of the file, trimmed.
func ReadProducts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open products: %w", err)
	}
	defer f.Close()
	products, err := ParseProducts(f)
	if err != nil {
		return nil, fmt.Errorf("read products %s: %w", path, err)
	}
	return products, nil
}

func ParseProducts(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

// Title is the text before the first colon, or the whole line.
func Title(line string) string {
	if before, _, ok := strings.Cut(line, ":"); ok {
		return strings.TrimSpace(before)
	}
	return strings.TrimSpace(line)
}

// Sample picks n products at random using seed. All products are returned,
// in input order, when n <= 0 or n >= len(products).
func Sample(products []string, n int, seed uint64) []string {
	if n <= 0 || n >= len(products) {
		return products
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := r.Perm(len(products))
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = products[perm[i]]
	}
	return out
}
