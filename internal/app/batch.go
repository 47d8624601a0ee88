package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxonav/internal/artifact"
	"taxonav/internal/batch"
	"taxonav/internal/notify"
	"taxonav/internal/results"
	"taxonav/internal/schedule"
	"taxonav/internal/store"
)

type batchOptions struct {
	productsPath string
	sample       int
	seed         uint64
	outputPath   string
	quiet        bool
	source       string
}

func (c *cli) batchCommand() *cobra.Command {
	var opts batchOptions
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Classify every product in a file",
		Long: `Classify a file of products, one per line, concurrently.

Results are appended to the JSON results file, recorded in the history
database, uploaded to S3 and summarized in Slack when each of those is
configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.productsPath == "" {
				opts.productsPath = c.cfg.ProductsPath
			}
			if opts.productsPath == "" {
				return fmt.Errorf("--products is required (or set products_path)")
			}
			if !cmd.Flags().Changed("seed") {
				opts.seed = uint64(time.Now().UnixNano())
			}
			opts.source = "batch"

			rt, err := c.buildRuntime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer c.logTotals(rt)

			summary, err := c.runBatch(cmd.Context(), rt, opts, cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", batch.FormatSummary(summary))
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.productsPath, "products", "", "Products file, one product per line (default: products_path)")
	f.IntVar(&opts.sample, "sample", 0, "Classify a random sample of N products (0 = all)")
	f.Uint64Var(&opts.seed, "seed", 0, "Seed for --sample (default: random)")
	f.StringVar(&opts.outputPath, "output", "", "JSON results file to append to (default: results_path)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print the summary")
	return cmd
}

func (c *cli) scheduleCommand() *cobra.Command {
	var opts batchOptions
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the batch on classify_schedule until interrupted",
		Long: `Run the products file through the classifier on a standard 5-field cron
schedule (minute hour day-of-month month day-of-week), evaluated in the
configured timezone. Examples: "0 9 * * *" (daily 9am), "0 9 * * 1-5"
(weekdays 9am).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := strings.TrimSpace(c.cfg.ClassifySchedule)
			if expr == "" {
				return fmt.Errorf("classify_schedule is not set")
			}
			if opts.productsPath == "" {
				opts.productsPath = c.cfg.ProductsPath
			}
			if opts.productsPath == "" {
				return fmt.Errorf("products_path is required for scheduled runs")
			}
			opts.quiet = true
			opts.source = "schedule"

			rt, err := c.buildRuntime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer c.logTotals(rt)

			c.logger.Info("classification scheduled",
				zap.String("cron", expr),
				zap.String("products", opts.productsPath),
				zap.String("timezone", c.cfg.Location.String()),
			)
			err = schedule.Run(cmd.Context(), expr, c.cfg.Location, c.logger, func(ctx context.Context) {
				runOpts := opts
				runOpts.seed = uint64(time.Now().UnixNano())
				summary, err := c.runBatch(ctx, rt, runOpts, io.Discard)
				if err != nil {
					c.logger.Error("scheduled classification error", zap.Error(err))
				}
				c.logger.Info("scheduled classification complete", zap.String("summary", batch.FormatSummary(summary)))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&opts.productsPath, "products", "", "Products file (default: products_path)")
	cmd.Flags().IntVar(&opts.sample, "sample", 0, "Classify a random sample of N products per run (0 = all)")
	return cmd
}

// runBatch classifies the products file once and persists the outcome.
// Persistence failures are joined into the returned error; the summary is
// always valid.
func (c *cli) runBatch(ctx context.Context, rt *runtime, opts batchOptions, out io.Writer) (batch.Summary, error) {
	products, err := batch.ReadProducts(opts.productsPath)
	if err != nil {
		return batch.Summary{}, err
	}
	selected := batch.Sample(products, opts.sample, opts.seed)
	if len(selected) < len(products) {
		c.logger.Info("sampled products",
			zap.Int("selected", len(selected)),
			zap.Int("total", len(products)),
			zap.Uint64("seed", opts.seed),
		)
	}

	start := time.Now()
	ids := results.NewIDs()
	runID := ids.Next(start)
	prov := store.Provenance{LLMProvider: c.cfg.LLMProvider, LLMModel: c.cfg.LLMModel}

	var db *sql.DB
	if c.cfg.DBPath != "" {
		db, err = store.InitDB(c.cfg.DBPath)
		if err != nil {
			return batch.Summary{}, fmt.Errorf("init database: %w", err)
		}
		defer db.Close()
		if err := store.InsertRun(db, store.Run{
			ID:          runID,
			Source:      opts.source,
			LLMProvider: prov.LLMProvider,
			LLMModel:    prov.LLMModel,
			StartedAt:   start,
		}); err != nil {
			return batch.Summary{}, fmt.Errorf("record run: %w", err)
		}
	}

	runner := &batch.Runner{
		Classifier: rt.nav,
		Workers:    c.cfg.BatchWorkers,
		CacheSize:  c.cfg.BatchCacheSize,
	}
	if !opts.quiet {
		total := len(selected)
		runner.OnResult = func(o batch.Outcome) {
			tag := ""
			if o.Cached {
				tag = " (cached)"
			}
			fmt.Fprintf(out, "[%d/%d] %s -> %s%s\n", o.Index+1, total, batch.Title(o.Product), o.Result.Leaf(), tag)
		}
	}

	c.logger.Info("batch started",
		zap.String("run_id", runID),
		zap.Int("products", len(selected)),
		zap.Int("workers", c.cfg.BatchWorkers),
	)
	outcomes, runErr := runner.Run(ctx, selected)
	summary := batch.Summarize(outcomes, time.Since(start))

	var records []results.Record
	for _, o := range outcomes {
		if o.Skipped {
			continue
		}
		at := start.Add(o.Duration)
		records = append(records, results.FromResult(ids.Next(at), runID, o.Product, batch.Title(o.Product), o.Result, at))
	}

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}

	outputPath := opts.outputPath
	if outputPath == "" {
		outputPath = c.cfg.ResultsPath
	}
	if outputPath != "" && len(records) > 0 {
		if err := results.AppendJSON(outputPath, records...); err != nil {
			errs = append(errs, fmt.Errorf("save results: %w", err))
		} else {
			c.logger.Info("results saved", zap.String("path", outputPath), zap.Int("records", len(records)))
		}
	}

	if db != nil {
		if err := store.InsertClassifications(db, records, prov); err != nil {
			errs = append(errs, fmt.Errorf("record classifications: %w", err))
		}
		if err := store.FinishRun(db, runID, summary.Classified+summary.Failed, summary.Failed, time.Now()); err != nil {
			errs = append(errs, fmt.Errorf("finish run: %w", err))
		}
	}

	// Uploads and notifications use a fresh context so an interrupted run
	// still reports what it finished.
	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if c.cfg.S3Configured() && len(records) > 0 {
		if err := c.uploadResults(postCtx, runID, records); err != nil {
			c.logger.Warn("results upload failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	if c.cfg.SlackConfigured() {
		n, err := notify.NewSlack(c.cfg.SlackBotToken, c.cfg.ReportChannelID)
		if err == nil {
			err = n.PostSummary(postCtx, fmt.Sprintf("Classification run %s", runID), batch.FormatSummary(summary))
		}
		if err != nil {
			c.logger.Warn("slack post failed", zap.Error(err))
		}
	}

	c.logger.Info("batch complete",
		zap.String("run_id", runID),
		zap.Int("classified", summary.Classified),
		zap.Int("failed", summary.Failed),
		zap.Int("cached", summary.Cached),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, errors.Join(errs...)
}

func (c *cli) uploadResults(ctx context.Context, runID string, records []results.Record) error {
	s3, err := artifact.NewS3Store(artifact.S3Config{
		Endpoint:  c.cfg.S3Endpoint,
		Region:    c.cfg.S3Region,
		AccessKey: c.cfg.S3AccessKey,
		SecretKey: c.cfg.S3SecretKey,
		Bucket:    c.cfg.S3Bucket,
		UseSSL:    c.cfg.S3UseSSL,
	})
	if err != nil {
		return err
	}
	body, err := results.EncodeJSON(records)
	if err != nil {
		return err
	}
	key, err := s3.Put(ctx, runID, artifact.ResultsFile, body)
	if err != nil {
		return err
	}
	c.logger.Info("results uploaded", zap.String("bucket", s3.Bucket()), zap.String("key", key))
	return nil
}
