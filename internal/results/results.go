// Package results turns classification outcomes into persisted records.
package results

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"taxonav/internal/navigator"
	"taxonav/internal/taxonomy"
)

type Candidate struct {
	Path []string `json:"path"`
	Leaf string   `json:"leaf"`
}

// Record is one classified product.
type Record struct {
	ID           string      `json:"id"`
	RunID        string      `json:"run_id,omitempty"`
	Product      string      `json:"product_info"`
	Title        string      `json:"title,omitempty"`
	CategoryPath string      `json:"category_path"`
	BestIndex    int         `json:"best_index"`
	Failed       bool        `json:"failed"`
	Candidates   []Candidate `json:"candidates"`
	ClassifiedAt time.Time   `json:"classified_at"`
}

// IDs hands out monotonic ULIDs. Safe for concurrent use.
type IDs struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewIDs() *IDs {
	return &IDs{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *IDs) Next(at time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), g.entropy).String()
}

// FromResult builds a record. A failed result is recorded with the failure
// path and no candidates.
func FromResult(id, runID, product, title string, r navigator.Result, at time.Time) Record {
	rec := Record{
		ID:           id,
		RunID:        runID,
		Product:      product,
		Title:        title,
		BestIndex:    r.Best,
		Failed:       r.Failed(),
		ClassifiedAt: at.UTC(),
		Candidates:   []Candidate{},
	}
	if rec.Failed {
		rec.CategoryPath = navigator.FailureLabel
		return rec
	}
	for _, p := range r.Paths {
		rec.Candidates = append(rec.Candidates, Candidate{Path: p, Leaf: p[len(p)-1]})
	}
	rec.CategoryPath = strings.Join(r.BestPath(), taxonomy.Separator)
	return rec
}

// Leaf is the chosen leaf or the failure label.
func (r Record) Leaf() string {
	if r.Failed || r.BestIndex < 0 || r.BestIndex >= len(r.Candidates) {
		return navigator.FailureLabel
	}
	return r.Candidates[r.BestIndex].Leaf
}

var appendMu sync.Mutex

// AppendJSON adds records to the JSON array stored at path, creating the
// file when it does not exist. The file is replaced atomically.
func AppendJSON(path string, records ...Record) error {
	appendMu.Lock()
	defer appendMu.Unlock()

	var existing []json.RawMessage
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read results: %w", err)
	case len(strings.TrimSpace(string(data))) > 0:
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("parse results %s: %w", path, err)
		}
	}

	for _, r := range records {
		var b bytes.Buffer
		if err := encode(&b, r, false); err != nil {
			return fmt.Errorf("encode record %s: %w", r.ID, err)
		}
		existing = append(existing, bytes.TrimSuffix(b.Bytes(), []byte("\n")))
	}

	var out bytes.Buffer
	if err := encode(&out, existing, true); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create results dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadJSON loads every record from a results file.
func ReadJSON(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse results %s: %w", path, err)
	}
	return out, nil
}

// WriteNDJSON writes one JSON object per line.
func WriteNDJSON(w io.Writer, records ...Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if err := encode(bw, r, false); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// EncodeJSON renders records as an indented JSON array.
func EncodeJSON(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	var buf bytes.Buffer
	if err := encode(&buf, records, true); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// encode writes v followed by a newline. Category paths contain '>', which
// must stay readable, so HTML escaping is off.
func encode(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
