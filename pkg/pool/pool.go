// Package pool provides object pooling for the Content Processor's (C2,
// §4.2) hot path: every stored utterance runs through entity extraction and
// keyword extraction, each allocating a scratch slice that is discarded as
// soon as ProcessedContent is built. Adapted from the teacher's generic
// JSON-output map/slice pools into domain-shaped pools for that hot path.
package pool

import (
	"sync"

	"github.com/juyoung-min/memory-agent/pkg/memtype"
)

// EntitySlicePool pools []memtype.Entity scratch slices used while a
// content dispatcher accumulates extraction-rule matches.
var EntitySlicePool = sync.Pool{
	New: func() interface{} {
		return make([]memtype.Entity, 0, 16)
	},
}

// KeywordSlicePool pools []string scratch slices used while extracting and
// deduplicating keywords.
var KeywordSlicePool = sync.Pool{
	New: func() interface{} {
		return make([]string, 0, 16)
	},
}

// MetadataMapPool pools map[string]any scratch maps. No content dispatcher
// draws from it; ProcessedContent.Metadata maps are allocated directly.
var MetadataMapPool = sync.Pool{
	New: func() interface{} {
		return make(map[string]any, 8)
	},
}

// GetEntitySlice returns a zero-length slice ready for appends.
func GetEntitySlice() []memtype.Entity {
	s := EntitySlicePool.Get().([]memtype.Entity)
	return s[:0]
}

// PutEntitySlice returns s to the pool.
func PutEntitySlice(s []memtype.Entity) {
	EntitySlicePool.Put(s)
}

// GetKeywordSlice returns a zero-length slice ready for appends.
func GetKeywordSlice() []string {
	s := KeywordSlicePool.Get().([]string)
	return s[:0]
}

// PutKeywordSlice returns s to the pool.
func PutKeywordSlice(s []string) {
	KeywordSlicePool.Put(s)
}

// GetMetadataMap returns an emptied map ready for use.
func GetMetadataMap() map[string]any {
	m := MetadataMapPool.Get().(map[string]any)
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutMetadataMap returns m to the pool.
func PutMetadataMap(m map[string]any) {
	MetadataMapPool.Put(m)
}
