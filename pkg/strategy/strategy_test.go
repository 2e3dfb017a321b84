package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/juyoung-min/memory-agent/pkg/memtype"
)

func TestDetermine_IdentityIsHighValueFrequent(t *testing.T) {
	s := Determine(memtype.Path{Major: "personal", Minor: "identity", Detail: "name"}, 9, 50)
	assert.Equal(t, LocationDB, s.Primary)
	assert.Contains(t, s.Secondary, LocationRAG)
	assert.Contains(t, s.Secondary, LocationCache)
	assert.True(t, s.IncludesRAG)
}

func TestDetermine_PreferenceSplitsOnImportance(t *testing.T) {
	high := Determine(memtype.Path{Major: "personal", Minor: "preference"}, 8, 50)
	assert.True(t, high.IncludesRAG)

	low := Determine(memtype.Path{Major: "personal", Minor: "preference"}, 3, 50)
	assert.False(t, low.IncludesRAG)
	assert.Contains(t, low.Secondary, LocationArchive)
}

func TestDetermine_ExperienceSplitsOnSize(t *testing.T) {
	large := Determine(memtype.Path{Major: "knowledge", Minor: "experience"}, 5, 2000)
	assert.Contains(t, large.Secondary, LocationArchive)
	assert.True(t, large.Compression)

	small := Determine(memtype.Path{Major: "knowledge", Minor: "experience"}, 5, 100)
	assert.Empty(t, small.Secondary)
}

func TestDetermine_TemporalContextIsTemporary(t *testing.T) {
	s := Determine(memtype.Path{Major: "temporal", Minor: "context"}, 2, 10)
	assert.Equal(t, LocationCache, s.Primary)
	assert.NotNil(t, s.TTLSeconds)
	assert.Equal(t, 86400, *s.TTLSeconds)
}

func TestDetermine_DefaultLadder(t *testing.T) {
	assert.Equal(t, LocationDB, Determine(memtype.Path{Major: "other", Minor: "x"}, 9, 10).Primary)
	assert.Equal(t, LocationCache, Determine(memtype.Path{Major: "other", Minor: "x"}, 1, 10).Primary)
}

func TestEstimateCost_AppliesFeatureSurchargesAndCompressionDiscount(t *testing.T) {
	s := Strategy{Primary: LocationDB, Secondary: []Location{LocationRAG}, IncludesEmbed: true, IncludesRAG: true, Compression: true}
	cost := EstimateCost(s, 0)
	assert.Greater(t, cost.Storage, 0.0)
	assert.InDelta(t, cost.Storage*0.1, cost.Retrieval, 0.01)
}

func TestOptimize_FrequentAccessAddsCache(t *testing.T) {
	base := Strategy{Primary: LocationDB}
	out := Optimize(base, AccessStats{DailyAccessCount: 20})
	assert.Contains(t, out.Secondary, LocationCache)
}

func TestOptimize_DormantMovesToArchiveAndEvictsCache(t *testing.T) {
	base := Strategy{Primary: LocationDB, Secondary: []Location{LocationCache}}
	out := Optimize(base, AccessStats{DaysSinceLastAccess: 45})
	assert.Contains(t, out.Secondary, LocationArchive)
	assert.NotContains(t, out.Secondary, LocationCache)
	assert.True(t, out.Compression)
}

func TestOptimize_LowHitRateDropsRAG(t *testing.T) {
	base := Strategy{Primary: LocationDB, Secondary: []Location{LocationRAG}, IncludesRAG: true}
	out := Optimize(base, AccessStats{SearchHitRate: 0.02})
	assert.False(t, out.IncludesRAG)
	assert.NotContains(t, out.Secondary, LocationRAG)
}
