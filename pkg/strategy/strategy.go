// Package strategy implements the Strategy Planner (C3, §4.3): a
// dispatch-table that maps a classified memory's type, importance, and
// content size onto a StorageStrategy describing where and how it is
// persisted, plus a cost estimator and an adaptive re-planner driven by
// observed access statistics.
//
// Grounded on storage_strategy.py's StorageStrategyDeterminer: the same
// five named strategies (high_value_frequent, high_value_infrequent,
// conversational, temporary, large_content), the same hierarchical
// major/minor dispatch table, and the same cost/optimize formulas, ported
// to a tagged-variant Go dispatch per §9 Design Notes.
package strategy

import "github.com/juyoung-min/memory-agent/pkg/memtype"

// Location is one available storage backend (§4.3).
type Location string

const (
	LocationDB      Location = "database"
	LocationRAG     Location = "rag_index"
	LocationCache   Location = "cache"
	LocationArchive Location = "archive"
)

// locationCost is the relative unit cost per location (storage_strategy.py's
// location_costs table: RAG indexing and cache RAM are pricier than DB,
// archive is the cheap tier).
var locationCost = map[Location]float64{
	LocationDB:      1.0,
	LocationRAG:     2.0,
	LocationCache:   3.0,
	LocationArchive: 0.3,
}

// Strategy is a fully resolved storage plan for one memory (§4.3).
type Strategy struct {
	Primary          Location
	Secondary        []Location
	IncludesRAG      bool
	IncludesEmbed    bool
	TTLSeconds       *int
	Compression      bool
	IndexForSearch   bool
}

func ttl(seconds int) *int { return &seconds }

// Named strategy templates, grounded directly on storage_strategy.py's
// self.strategies dict.
var (
	highValueFrequent = Strategy{
		Primary:        LocationDB,
		Secondary:      []Location{LocationRAG, LocationCache},
		IncludesRAG:    true,
		IncludesEmbed:  true,
		IndexForSearch: true,
	}
	highValueInfrequent = Strategy{
		Primary:        LocationDB,
		Secondary:      []Location{LocationArchive},
		IncludesEmbed:  true,
		Compression:    true,
		IndexForSearch: true,
	}
	conversational = Strategy{
		Primary:        LocationDB,
		IncludesEmbed:  true,
		IndexForSearch: true,
	}
	temporary = Strategy{
		Primary:    LocationCache,
		TTLSeconds: ttl(86400),
	}
	largeContent = Strategy{
		Primary:        LocationDB,
		Secondary:      []Location{LocationArchive},
		IncludesEmbed:  true,
		Compression:    true,
		IndexForSearch: true,
	}
)

// clone returns a deep-enough copy so callers can mutate Secondary without
// aliasing a shared template (mirrors storage_strategy.py's dataclass
// reconstruction in optimize_strategy).
func clone(s Strategy) Strategy {
	out := s
	out.Secondary = append([]Location(nil), s.Secondary...)
	return out
}

// Determine resolves a Strategy for a classified memory path (§4.3's
// hierarchical dispatch, storage_strategy.py's
// _determine_hierarchical_strategy).
func Determine(path memtype.Path, importance float64, contentSize int) Strategy {
	switch path.Major {
	case "personal":
		switch path.Minor {
		case "identity", "profession":
			return clone(highValueFrequent)
		case "preference":
			if importance >= 7 {
				return clone(highValueFrequent)
			}
			return clone(highValueInfrequent)
		}
	case "knowledge":
		switch path.Minor {
		case "skill":
			return clone(highValueFrequent)
		case "experience":
			if contentSize > 1000 {
				return clone(largeContent)
			}
			return clone(conversational)
		case "fact":
			if importance >= 8 {
				return clone(highValueInfrequent)
			}
			return Strategy{Primary: LocationDB, IncludesEmbed: true, IndexForSearch: true}
		}
	case "temporal":
		switch path.Minor {
		case "conversation":
			return clone(conversational)
		case "context":
			return clone(temporary)
		}
	}
	return defaultStrategy(importance, contentSize)
}

// defaultStrategy mirrors storage_strategy.py's _get_default_strategy
// importance ladder (>=8, >=6, >=4, else).
func defaultStrategy(importance float64, contentSize int) Strategy {
	switch {
	case importance >= 8:
		return clone(highValueFrequent)
	case importance >= 6:
		if contentSize > 1000 {
			return clone(largeContent)
		}
		return clone(highValueInfrequent)
	case importance >= 4:
		return clone(conversational)
	default:
		return clone(temporary)
	}
}

// Cost holds the estimated storage/retrieval/monthly cost for a Strategy
// (§4.3, storage_strategy.py's get_storage_cost).
type Cost struct {
	Storage      float64
	Retrieval    float64
	TotalMonthly float64
}

// EstimateCost applies the same relative-unit cost model as
// storage_strategy.py: primary cost plus half-weighted secondary costs,
// embedding/RAG feature surcharges, a compression discount, and a
// size-proportional multiplier on content size in KB.
func EstimateCost(s Strategy, contentSize int) Cost {
	base := locationCost[s.Primary]
	for _, loc := range s.Secondary {
		base += locationCost[loc] * 0.5
	}
	if s.IncludesEmbed {
		base += 0.5
	}
	if s.IncludesRAG {
		base += 1.0
	}
	if s.Compression {
		base *= 0.7
	}

	sizeFactor := float64(contentSize) / 1024
	total := base * (1 + sizeFactor*0.1)

	return Cost{
		Storage:      round2(total),
		Retrieval:    round2(total * 0.1),
		TotalMonthly: round2(total * 1.1 * 30),
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// AccessStats summarizes observed usage for adaptive re-planning (§4.3,
// storage_strategy.py's access_stats dict).
type AccessStats struct {
	DailyAccessCount   int
	DaysSinceLastAccess int
	SearchHitRate      float64
}

// Optimize re-plans a Strategy from observed access patterns: frequent
// access promotes into cache, month-long dormancy demotes into archive
// (evicting cache) and enables compression, and a cold RAG index is
// dropped. Grounded on storage_strategy.py's optimize_strategy.
func Optimize(current Strategy, stats AccessStats) Strategy {
	out := clone(current)

	switch {
	case stats.DailyAccessCount > 10:
		if !contains(out.Secondary, LocationCache) {
			out.Secondary = append(out.Secondary, LocationCache)
		}
	case stats.DaysSinceLastAccess > 30:
		if !contains(out.Secondary, LocationArchive) {
			out.Secondary = append(out.Secondary, LocationArchive)
		}
		out.Secondary = remove(out.Secondary, LocationCache)
		out.Compression = true
	}

	if stats.SearchHitRate < 0.1 && out.IncludesRAG {
		out.IncludesRAG = false
		out.Secondary = remove(out.Secondary, LocationRAG)
	}

	return out
}

func contains(locs []Location, target Location) bool {
	for _, l := range locs {
		if l == target {
			return true
		}
	}
	return false
}

func remove(locs []Location, target Location) []Location {
	out := locs[:0:0]
	for _, l := range locs {
		if l != target {
			out = append(out, l)
		}
	}
	return out
}
