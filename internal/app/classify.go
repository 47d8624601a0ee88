package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taxonav/internal/batch"
	"taxonav/internal/navigator"
	"taxonav/internal/results"
	"taxonav/internal/taxonomy"
)

const separatorWidth = 80

func (c *cli) classifyCommand() *cobra.Command {
	var (
		showStages bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "classify [product...]",
		Short: "Classify one or more products",
		Long: `Classify each argument as one product description. With no arguments,
every non-empty line of stdin is a product.

The chosen leaf is printed, or "False" when no category could be found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			products := args
			if len(products) == 0 {
				var err error
				products, err = batch.ParseProducts(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			if len(products) == 0 {
				return fmt.Errorf("no products given")
			}

			ctx := cmd.Context()
			rt, err := c.buildRuntime(ctx, nil)
			if err != nil {
				return err
			}
			defer c.logTotals(rt)

			out := cmd.OutOrStdout()
			ids := results.NewIDs()
			for i, p := range products {
				if err := ctx.Err(); err != nil {
					return err
				}
				res := rt.nav.Classify(ctx, p)
				if asJSON {
					now := time.Now()
					rec := results.FromResult(ids.Next(now), "", p, batch.Title(p), res, now)
					if err := results.WriteNDJSON(out, rec); err != nil {
						return err
					}
					continue
				}
				if i > 0 {
					fmt.Fprintf(out, "\n%s\n\n", strings.Repeat("=", separatorWidth))
				}
				if showStages {
					writeStages(out, res)
				}
				writeResult(out, p, res)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showStages, "show-stages", false, "Print what each stage selected")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON record per product")
	return cmd
}

func writeResult(w io.Writer, product string, res navigator.Result) {
	fmt.Fprintf(w, "[PRODUCT INPUT]\n%s\n\n[FINAL CATEGORY]\n%s\n", product, res.Leaf())
}

func writeStages(w io.Writer, res navigator.Result) {
	tr := res.Trace
	fmt.Fprintf(w, "Stage 1, top-level categories: %s\n", orNone(tr.L1s))
	for i, leaves := range tr.Branches {
		l1 := ""
		if i < len(tr.L1s) {
			l1 = tr.L1s[i]
		}
		fmt.Fprintf(w, "Stage 2, branch %d (%s): %s\n", i+1, l1, orNone(leaves))
	}
	if len(tr.Combined) > 0 {
		fmt.Fprintf(w, "Combined candidates (%d): %s\n", len(tr.Combined), strings.Join(tr.Combined, ", "))
	}
	if res.Failed() {
		fmt.Fprintf(w, "Stopped at %s: %s\n\n", tr.Stage, tr.Reason)
		return
	}
	fmt.Fprintf(w, "Stage 3, best path: %s\n\n", strings.Join(res.BestPath(), taxonomy.Separator))
}

func orNone(labels []string) string {
	if len(labels) == 0 {
		return "(none)"
	}
	return strings.Join(labels, ", ")
}
