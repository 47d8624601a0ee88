package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxonav/internal/oracle"
	"taxonav/internal/results"
)

const testTaxonomy = `# Google_Product_Taxonomy_Version: test
Apparel
Apparel > Shoes
Apparel > Shoes > Boots
Apparel > Shirts
Sporting Goods
Sporting Goods > Camping > Tents
`

func setTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	taxPath := filepath.Join(dir, "taxonomy.txt")
	require.NoError(t, os.WriteFile(taxPath, []byte(testTaxonomy), 0o644))

	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("TAXONOMY_PATH", taxPath)
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("LLM_FINAL_MODEL", "")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("DB_PATH", "")
	t.Setenv("RESULTS_PATH", "")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("S3_ENDPOINT", "")
	t.Setenv("CLASSIFY_SCHEDULE", "")
	return dir
}

// fakeFactory answers each stage from the prompt it sees and records the
// models it was asked for.
type fakeFactory struct {
	mu     sync.Mutex
	models []string
}

func (f *fakeFactory) build(_ context.Context, s oracle.Settings) (oracle.Oracle, oracle.UsageReporter, error) {
	f.mu.Lock()
	f.models = append(f.models, s.Model)
	f.mu.Unlock()
	return &oracle.Script{Respond: func(system, user string) (string, error) {
		switch {
		case strings.Contains(system, "L1 categories"):
			return "Apparel\nSporting Goods", nil
		case strings.Contains(system, "by its number"):
			return "1", nil
		case strings.Contains(user, "(L1: Apparel)"):
			return "Boots", nil
		default:
			return "Tents", nil
		}
	}}, nil, nil
}

func run(t *testing.T, f *fakeFactory, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(f.build)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	setTestEnv(t)
	f := &fakeFactory{}

	out, err := run(t, f, "classify", "Leather boot: brown, waterproof")
	require.NoError(t, err)
	assert.Contains(t, out, "[PRODUCT INPUT]\nLeather boot: brown, waterproof")
	assert.Contains(t, out, "[FINAL CATEGORY]\nBoots")
	assert.Len(t, f.models, 1, "one oracle when the final model is not separate")
}

func TestClassifyShowStages(t *testing.T) {
	setTestEnv(t)
	out, err := run(t, &fakeFactory{}, "classify", "--show-stages", "Leather boot")
	require.NoError(t, err)
	assert.Contains(t, out, "Stage 1, top-level categories: Apparel, Sporting Goods")
	assert.Contains(t, out, "Stage 2, branch 1 (Apparel): Boots")
	assert.Contains(t, out, "Stage 2, branch 2 (Sporting Goods): Tents")
	assert.Contains(t, out, "Stage 3, best path: Apparel > Shoes > Boots")
}

func TestClassifyJSONFromStdin(t *testing.T) {
	setTestEnv(t)
	f := &fakeFactory{}
	cmd := NewRootCommand(f.build)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("Boot\n\n  Tent: 2 person  \n"))
	cmd.SetArgs([]string{"classify", "--json"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"category_path":"Apparel > Shoes > Boots"`)
	assert.Contains(t, lines[0], `"product_info":"Boot"`)
	assert.Contains(t, lines[1], `"title":"Tent"`)
}

func TestClassifyRequiresAPIKey(t *testing.T) {
	setTestEnv(t)
	t.Setenv("OPENAI_API_KEY", "")
	_, err := run(t, &fakeFactory{}, "classify", "Boot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai_api_key")
}

func TestSeparateFinalModel(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LLM_FINAL_MODEL", "big")
	f := &fakeFactory{}
	_, err := run(t, f, "--model", "small", "classify", "Boot")
	require.NoError(t, err)
	assert.Equal(t, []string{"small", "big"}, f.models)
}

func TestBatchPersistsAndHistoryReads(t *testing.T) {
	dir := setTestEnv(t)
	products := filepath.Join(dir, "products.txt")
	require.NoError(t, os.WriteFile(products, []byte("Boot: leather\n\nTent: 2 person\nBoot: leather\n"), 0o644))
	resultsPath := filepath.Join(dir, "out", "results.json")
	t.Setenv("DB_PATH", filepath.Join(dir, "history.db"))

	out, err := run(t, &fakeFactory{}, "batch", "--products", products, "--output", resultsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Processed 3 products")
	assert.Contains(t, out, "-> Boots")

	recs, err := results.ReadJSON(resultsPath)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, recs[0].RunID, r.RunID)
		assert.Equal(t, "Apparel > Shoes > Boots", r.CategoryPath)
	}

	out, err = run(t, &fakeFactory{}, "history", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "3 classified, 0 failed, 1 distinct leaves")
	assert.Contains(t, out, "Boot")
}

func TestHistoryRequiresDB(t *testing.T) {
	setTestEnv(t)
	_, err := run(t, &fakeFactory{}, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db_path")
}

func TestProviderKeysFromEnvironmentDoNotLeak(t *testing.T) {
	setTestEnv(t)
	t.Setenv("OPENAI_API_KEY", "")
	_, err := run(t, &fakeFactory{}, "--provider", "anthropic", "classify", "Boot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic_api_key")
}

func TestTaxonomyCommandWorksWithoutKey(t *testing.T) {
	setTestEnv(t)
	t.Setenv("OPENAI_API_KEY", "")
	out, err := run(t, &fakeFactory{}, "taxonomy")
	require.NoError(t, err)
	assert.Contains(t, out, "Leaves:")
	assert.Contains(t, out, "Top-level:")
}

func TestScheduleRequiresExpression(t *testing.T) {
	setTestEnv(t)
	_, err := run(t, &fakeFactory{}, "schedule")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify_schedule")
}
