package app

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taxonav/internal/store"
)

func (c *cli) historyCommand() *cobra.Command {
	var (
		limit int
		days  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent classifications and statistics from the history database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.DBPath == "" {
				return fmt.Errorf("db_path is not set; history is disabled")
			}
			db, err := store.InitDB(c.cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			defer db.Close()

			since := time.Now().AddDate(0, 0, -days)
			stats, err := store.GetClassificationStats(db, since)
			if err != nil {
				return fmt.Errorf("load stats: %w", err)
			}
			top, err := store.GetTopLeaves(db, since, 5)
			if err != nil {
				return fmt.Errorf("load top leaves: %w", err)
			}
			recent, err := store.GetRecentClassifications(db, limit)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Last %d days: %d classified, %d failed, %d distinct leaves\n",
				days, stats.Total, stats.Failures, stats.DistinctLeaves)
			for _, lc := range top {
				fmt.Fprintf(out, "  %4d  %s\n", lc.Count, lc.Path)
			}
			if len(recent) == 0 {
				fmt.Fprintln(out, "\nNo classifications recorded.")
				return nil
			}

			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tPRODUCT\tCATEGORY")
			loc := c.cfg.Location
			for _, r := range recent {
				title := r.Title
				if title == "" {
					title = truncate(r.Product, 40)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ClassifiedAt.In(loc).Format("2006-01-02 15:04"), title, r.CategoryPath)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of recent classifications to show")
	cmd.Flags().IntVar(&days, "days", 30, "Window for the statistics, in days")
	return cmd
}

func (c *cli) taxonomyCommand() *cobra.Command {
	var collisions int
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Print statistics about the taxonomy file",
		RunE: func(cmd *cobra.Command, args []string) error {
			tax, err := c.loadTaxonomy()
			if err != nil {
				return err
			}
			st := tax.Stats()
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 1, ' ', 0)
			fmt.Fprintf(tw, "File:\t%s\n", c.cfg.TaxonomyPath)
			fmt.Fprintf(tw, "Paths:\t%d\n", st.Paths)
			fmt.Fprintf(tw, "Leaves:\t%d\n", st.Leaves)
			fmt.Fprintf(tw, "Distinct leaf names:\t%d\n", st.LeafNames)
			fmt.Fprintf(tw, "Top-level:\t%d\n", st.L1)
			fmt.Fprintf(tw, "Nodes:\t%d\n", st.Nodes)
			fmt.Fprintf(tw, "Max depth:\t%d\n", st.MaxDepth)
			fmt.Fprintf(tw, "Leaf-name collisions:\t%d\n", st.Collisions)
			if err := tw.Flush(); err != nil {
				return err
			}

			if collisions <= 0 || st.Collisions == 0 {
				return nil
			}
			names := make([]string, 0, st.Collisions)
			counts := tax.Collisions()
			for name := range counts {
				names = append(names, name)
			}
			sort.Slice(names, func(i, j int) bool {
				if counts[names[i]] != counts[names[j]] {
					return counts[names[i]] > counts[names[j]]
				}
				return names[i] < names[j]
			})
			if len(names) > collisions {
				names = names[:collisions]
			}
			for _, name := range names {
				path, _ := tax.LeafPath(name)
				fmt.Fprintf(out, "  %s (+%d), resolves to %s\n", name, counts[name], path)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&collisions, "collisions", 10, "List up to N colliding leaf names")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
