package pgstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/juyoung-min/memory-agent/internal/vectorkv"
)

func TestParseVectorDim(t *testing.T) {
	assert.Equal(t, 768, parseVectorDim("vector(768)"))
	assert.Equal(t, 1536, parseVectorDim("vector(1536)"))
	assert.Equal(t, 0, parseVectorDim("text"))
}

func TestCompileFilter_Equals(t *testing.T) {
	clause, args, err := compileFilter(vectorkv.Filter{Field: "user_id", Op: vectorkv.OpEquals, Value: "u1"}, 2)
	assert.NoError(t, err)
	assert.Equal(t, "user_id = $2", clause)
	assert.Equal(t, []any{"u1"}, args)
}

func TestCompileFilter_In(t *testing.T) {
	clause, args, err := compileFilter(vectorkv.Filter{Field: "memory_type", Op: vectorkv.OpIn, Value: []string{"a", "b"}}, 3)
	assert.NoError(t, err)
	assert.Equal(t, "memory_type = ANY($3)", clause)
	assert.Equal(t, []any{[]string{"a", "b"}}, args)
}

func TestCompileFilter_UnknownOp(t *testing.T) {
	_, _, err := compileFilter(vectorkv.Filter{Field: "x", Op: "??", Value: 1}, 1)
	assert.Error(t, err)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-1))
	assert.Equal(t, 1.0, clamp01(2))
	assert.Equal(t, 0.5, clamp01(0.5))
}
