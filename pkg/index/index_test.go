package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juyoung-min/memory-agent/internal/vectorkv"
)

type fakeStore struct {
	stats        vectorkv.TableStats
	appliedCount int
	lastStrategy vectorkv.IndexStrategy
	searchDelay  time.Duration
}

func (f *fakeStore) CreateTable(ctx context.Context, name string, dim int, extraCols []string) error {
	return nil
}
func (f *fakeStore) DescribeTable(ctx context.Context, name string) (*vectorkv.TableInfo, error) {
	return &vectorkv.TableInfo{Name: name, Exists: true}, nil
}
func (f *fakeStore) Insert(ctx context.Context, table, id, content string, embedding []float32, userID, sessionID, memoryType string, importance float64, metadata map[string]any) error {
	return nil
}
func (f *fakeStore) Search(ctx context.Context, table string, queryVector []float32, filters []vectorkv.Filter, limit, probes int) ([]vectorkv.SearchResult, error) {
	if f.searchDelay > 0 {
		time.Sleep(f.searchDelay)
	}
	return []vectorkv.SearchResult{{ID: "r1", Similarity: 0.9}}, nil
}
func (f *fakeStore) Delete(ctx context.Context, table string, ids []string) error { return nil }
func (f *fakeStore) UpdateMetadata(ctx context.Context, table, id string, patch map[string]any, merge bool) error {
	return nil
}
func (f *fakeStore) Query(ctx context.Context, sql string, args ...any) error { return nil }
func (f *fakeStore) Stats(ctx context.Context, table string) (*vectorkv.TableStats, error) {
	return &f.stats, nil
}
func (f *fakeStore) ApplyIndex(ctx context.Context, table string, strategy vectorkv.IndexStrategy) error {
	f.appliedCount++
	f.lastStrategy = strategy
	return nil
}
func (f *fakeStore) Close() error { return nil }

func TestSelectStrategy_SmallDatasetNoIndex(t *testing.T) {
	s := SelectStrategy(vectorkv.TableStats{RowCount: 500})
	assert.Equal(t, "none", s.Kind)
}

func TestSelectStrategy_SmallMediumBasicIVFFlat(t *testing.T) {
	s := SelectStrategy(vectorkv.TableStats{RowCount: 5000})
	assert.Equal(t, "ivfflat", s.Kind)
	assert.Equal(t, 50, s.Lists)
	assert.Equal(t, 5, s.Probes)
}

func TestSelectStrategy_MediumPowerUsersMoreAccurate(t *testing.T) {
	s := SelectStrategy(vectorkv.TableStats{
		RowCount:      50000,
		UserHistogram: vectorkv.UserBuckets{Power: 30, Light: 70},
	})
	assert.Equal(t, "ivfflat", s.Kind)
	assert.Equal(t, 100, s.Lists)
	assert.Equal(t, 20, s.Probes)
}

func TestSelectStrategy_LargeFewUsersPartitioned(t *testing.T) {
	s := SelectStrategy(vectorkv.TableStats{RowCount: 200000, UniqueUsers: 500})
	assert.Equal(t, "partitioned_ivfflat", s.Kind)
}

func TestSelectStrategy_LargeManyUsersHNSW(t *testing.T) {
	s := SelectStrategy(vectorkv.TableStats{RowCount: 200000, UniqueUsers: 5000})
	assert.Equal(t, "hnsw", s.Kind)
	assert.Equal(t, 16, s.M)

	big := SelectStrategy(vectorkv.TableStats{RowCount: 600000, UniqueUsers: 5000})
	assert.Equal(t, 32, big.M)
}

func TestShouldOptimize_SkipsTooSmall(t *testing.T) {
	o := New(&fakeStore{})
	assert.False(t, o.ShouldOptimize("t", vectorkv.TableStats{RowCount: 50}, false))
}

func TestShouldOptimize_SkipsRecentlyOptimized(t *testing.T) {
	o := New(&fakeStore{})
	o.lastOptimized["t"] = time.Now()
	assert.False(t, o.ShouldOptimize("t", vectorkv.TableStats{RowCount: 5000}, false))
}

func TestShouldOptimize_ForceBypassesGuard(t *testing.T) {
	o := New(&fakeStore{})
	o.lastOptimized["t"] = time.Now()
	assert.True(t, o.ShouldOptimize("t", vectorkv.TableStats{RowCount: 5000}, true))
}

func TestOptimize_AppliesStrategyAndRecordsTimestamp(t *testing.T) {
	fs := &fakeStore{stats: vectorkv.TableStats{RowCount: 5000}}
	o := New(fs)
	res, err := o.Optimize(context.Background(), "t", false)
	require.NoError(t, err)
	assert.True(t, res.Optimized)
	assert.Equal(t, 1, fs.appliedCount)
	assert.Equal(t, "ivfflat", fs.lastStrategy.Kind)
}

func TestSearchParams_Table(t *testing.T) {
	assert.Equal(t, 1, SearchParams(5000, OptimizeSpeed))
	assert.Equal(t, 50, SearchParams(50000, OptimizeAccuracy))
	assert.Equal(t, 40, SearchParams(200000, OptimizeBalanced))
}

func TestBenchmark_RunsAllThreeTargets(t *testing.T) {
	fs := &fakeStore{stats: vectorkv.TableStats{RowCount: 5000}}
	results, err := Benchmark(context.Background(), fs, "t", []float32{0.1, 0.2}, nil, 5)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.NotEmpty(t, r.Results)
	}
}
