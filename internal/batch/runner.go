package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"taxonav/internal/navigator"
)

const (
	DefaultWorkers   = 4
	DefaultCacheSize = 1024
)

// Classifier is satisfied by *navigator.Navigator.
type Classifier interface {
	Classify(ctx context.Context, product string) navigator.Result
}

// Outcome is the result for one input line.
type Outcome struct {
	Index    int
	Product  string
	Result   navigator.Result
	Cached   bool
	Skipped  bool
	Duration time.Duration
}

// Runner classifies products concurrently. Outcomes keep input order.
// Successful results are reused for identical product text within a run.
type Runner struct {
	Classifier Classifier
	Workers    int
	CacheSize  int
	// OnResult, when set, is called once per classified product. Calls are
	// serialized.
	OnResult func(Outcome)
}

// Run returns one outcome per product. When ctx is canceled no new products
// are started; the ones never started, and the ones whose classification
// failed because of the cancellation, are marked Skipped and ctx.Err() is
// returned alongside the partial outcomes.
func (r *Runner) Run(ctx context.Context, products []string) ([]Outcome, error) {
	if r.Classifier == nil {
		return nil, fmt.Errorf("batch runner has no classifier")
	}
	workers := r.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	size := r.CacheSize
	if size < 1 {
		size = DefaultCacheSize
	}
	memo, err := lru.New[string, navigator.Result](size)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	out := make([]Outcome, len(products))
	for i, p := range products {
		out[i] = Outcome{Index: i, Product: p, Result: navigator.Failure(), Skipped: true}
	}

	var cbMu sync.Mutex
	report := func(o Outcome) {
		if r.OnResult == nil {
			return
		}
		cbMu.Lock()
		defer cbMu.Unlock()
		r.OnResult(o)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range products {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			start := time.Now()
			o := Outcome{Index: i, Product: p}
			if res, ok := memo.Get(p); ok {
				o.Result, o.Cached = res, true
			} else {
				o.Result = r.Classifier.Classify(gctx, p)
				if !o.Result.Failed() {
					memo.Add(p, o.Result)
				}
			}
			o.Duration = time.Since(start)
			if o.Result.Failed() && gctx.Err() != nil {
				// Interrupted, not unclassifiable.
				o.Skipped = true
				out[i] = o
				return nil
			}
			out[i] = o
			report(o)
			return nil
		})
	}
	_ = g.Wait()
	return out, ctx.Err()
}
