package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"taxonav/internal/logging"
	"taxonav/internal/navigator"
	"taxonav/internal/oracle"
	"taxonav/internal/selector"
	"taxonav/internal/taxonomy"
	"taxonav/internal/telemetry"
)

// runtime is everything a classifying command needs.
type runtime struct {
	tax     *taxonomy.Taxonomy
	nav     *navigator.Navigator
	usage   []oracle.UsageReporter
	counter *oracle.Counter
	totals  *telemetry.Totals
}

func (c *cli) loadTaxonomy() (*taxonomy.Taxonomy, error) {
	tax, err := taxonomy.Load(c.cfg.TaxonomyPath)
	if err != nil {
		return nil, err
	}
	st := tax.Stats()
	c.logger.Info("taxonomy loaded",
		zap.String("path", c.cfg.TaxonomyPath),
		zap.Int("paths", st.Paths),
		zap.Int("leaves", st.Leaves),
		zap.Int("l1", st.L1),
		zap.Int("collisions", st.Collisions),
	)
	return tax, nil
}

func (c *cli) buildRuntime(ctx context.Context, extra telemetry.Observer) (*runtime, error) {
	cfg := c.cfg
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	policy, err := selector.ParsePolicy(cfg.FinalUnparseablePolicy)
	if err != nil {
		return nil, err
	}
	tax, err := c.loadTaxonomy()
	if err != nil {
		return nil, err
	}

	rt := &runtime{tax: tax, counter: &oracle.Counter{}, totals: &telemetry.Totals{}}
	settings := oracle.Settings{
		Provider:   cfg.LLMProvider,
		Model:      cfg.LLMModel,
		APIKey:     cfg.APIKey(),
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    cfg.LLMTimeout(),
		MaxRetries: cfg.LLMMaxRetries,
		RetryBase:  cfg.LLMRetryBase(),
		Logger:     c.logger,
		Counter:    rt.counter,
	}
	if cfg.LLMProvider != oracle.ProviderOpenAI {
		settings.BaseURL = ""
	}

	narrow, usage, err := c.newOracle(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("init %s oracle: %w", cfg.LLMProvider, err)
	}
	rt.usage = append(rt.usage, usage)

	final := narrow
	if cfg.LLMFinalModel != cfg.LLMModel {
		settings.Model = cfg.LLMFinalModel
		final, usage, err = c.newOracle(ctx, settings)
		if err != nil {
			return nil, fmt.Errorf("init %s final oracle: %w", cfg.LLMProvider, err)
		}
		rt.usage = append(rt.usage, usage)
	}

	rt.nav = navigator.New(tax, narrow, final, navigator.Options{
		L1Fanout:                cfg.L1Fanout,
		LeafChunkSize:           cfg.LeafChunkSize,
		FinalSelectionThreshold: cfg.FinalSelectionThreshold,
		UnparseablePolicy:       policy,
		Observer:                telemetry.Multi(logging.Observer(c.logger), rt.totals, extra),
	})
	return rt, nil
}

func (rt *runtime) tokenUsage() oracle.Usage {
	var total oracle.Usage
	for _, u := range rt.usage {
		if u != nil {
			total.Add(u.Usage())
		}
	}
	return total
}

// logTotals reports oracle traffic and pipeline anomalies for the run.
func (c *cli) logTotals(rt *runtime) {
	u := rt.tokenUsage()
	hallucinations, degraded, fallbacks, failures := rt.totals.Snapshot()
	c.logger.Info("oracle usage",
		zap.Int64("calls", rt.counter.Calls()),
		zap.Int64("call_failures", rt.counter.Failures()),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int("hallucinations", hallucinations),
		zap.Int("degraded", degraded),
		zap.Int("parse_fallbacks", fallbacks),
		zap.Int("failures", failures),
	)
}
