// Package app wires configuration, the taxonomy, oracles and persistence
// into the taxonav command line.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxonav/internal/config"
	"taxonav/internal/httpx"
	"taxonav/internal/logging"
	"taxonav/internal/oracle"
)

// OracleFactory builds an oracle for one model. oracle.New in production.
type OracleFactory func(ctx context.Context, s oracle.Settings) (oracle.Oracle, oracle.UsageReporter, error)

type cli struct {
	configPath string
	taxonomy   string
	provider   string
	model      string
	verbose    bool

	cfg       config.Config
	logger    *zap.Logger
	newOracle OracleFactory
}

func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree. A nil factory means oracle.New.
func NewRootCommand(factory OracleFactory) *cobra.Command {
	if factory == nil {
		factory = oracle.New
	}
	c := &cli{newOracle: factory}

	root := &cobra.Command{
		Use:   "taxonav",
		Short: "Classify products into a hierarchical taxonomy with an LLM",
		Long: `taxonav places free-text product descriptions into the leaf of a
product taxonomy. An LLM first picks the most likely top-level categories,
then candidate leaves under each, then the single best leaf.

Configuration comes from taxonav.yaml (or CONFIG_PATH), environment
variables and a .env file, in increasing order of precedence; flags win
over all of them.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "YAML config file (default: $CONFIG_PATH or ./taxonav.yaml)")
	pf.StringVar(&c.taxonomy, "taxonomy", "", "Taxonomy file (overrides taxonomy_path)")
	pf.StringVar(&c.provider, "provider", "", "LLM provider: openai, anthropic or gemini")
	pf.StringVar(&c.model, "model", "", "Model for the narrowing stages (overrides llm_model)")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		c.classifyCommand(),
		c.batchCommand(),
		c.scheduleCommand(),
		c.historyCommand(),
		c.taxonomyCommand(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg, err := config.LoadFrom(c.configPath)
	if err != nil {
		return err
	}
	if c.taxonomy != "" {
		cfg.TaxonomyPath = c.taxonomy
	}
	if c.provider != "" {
		cfg.LLMProvider = c.provider
	}
	if c.model != "" {
		if cfg.LLMFinalModel == cfg.LLMModel {
			cfg.LLMFinalModel = c.model
		}
		cfg.LLMModel = c.model
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	logger, err := logging.New(c.verbose)
	if err != nil {
		return err
	}
	c.logger = logger

	applied := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	c.logger.Debug("config loaded",
		zap.String("taxonomy", cfg.TaxonomyPath),
		zap.String("provider", cfg.LLMProvider),
		zap.String("model", cfg.LLMModel),
		zap.String("final_model", cfg.LLMFinalModel),
		zap.Int("l1_fanout", cfg.L1Fanout),
		zap.Int("leaf_chunk_size", cfg.LeafChunkSize),
		zap.Int("final_selection_threshold", cfg.FinalSelectionThreshold),
		zap.String("timezone", cfg.Timezone),
		zap.Duration("external_http_timeout", applied),
	)
	return nil
}
