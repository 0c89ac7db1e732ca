package maintenance

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/logger"
	"github.com/mnemo-ai/mnemo/pkg/embed"
	"github.com/mnemo-ai/mnemo/pkg/hybrid"
	"github.com/mnemo-ai/mnemo/pkg/indexer"
	"github.com/mnemo-ai/mnemo/pkg/memstore"
	"github.com/mnemo-ai/mnemo/pkg/store"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	provider := embed.NewMockProvider(64)
	engine, err := store.Open(filepath.Join(t.TempDir(), "store.db"), 64, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	mems := memstore.New(engine, provider, hybrid.DefaultConfig(), logger.Nop())
	idx := indexer.New(engine, provider, hybrid.DefaultConfig(), logger.Nop())
	return New(cfg, mems, idx, logger.Nop())
}

func TestNew_DefaultsThreshold(t *testing.T) {
	svc := newTestService(t, Config{})
	assert.Equal(t, memstore.DefaultSimilarityThreshold, svc.cfg.ConsolidateThreshold)

	svc = newTestService(t, Config{ConsolidateThreshold: 0.6})
	assert.Equal(t, 0.6, svc.cfg.ConsolidateThreshold)
}

func TestStartStop(t *testing.T) {
	root := t.TempDir()
	svc := newTestService(t, Config{
		ConsolidateExpr: "0 3 * * *",
		ReindexExpr:     "*/30 * * * *",
		WatchRoots:      []string{root},
	})

	require.NoError(t, svc.Start(context.Background()))
	svc.Stop()
}

func TestStart_RejectsBadCron(t *testing.T) {
	svc := newTestService(t, Config{ConsolidateExpr: "not a schedule"})
	assert.Error(t, svc.Start(context.Background()))
}

func TestDirtyTracking(t *testing.T) {
	svc := newTestService(t, Config{WatchRoots: []string{"/a", "/b"}})

	assert.Empty(t, svc.takeDirty())

	svc.markAllDirty()
	roots := svc.takeDirty()
	assert.ElementsMatch(t, []string{"/a", "/b"}, roots)

	// Taking clears the set
	assert.Empty(t, svc.takeDirty())
}
