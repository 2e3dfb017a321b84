package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juyoung-min/memory-agent/pkg/memtype"
)

func TestClassify_IdentityName(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	got := c.Classify("My name is Alice and I live in Seoul", Context{})
	assert.Equal(t, "personal", got.Path.Major)
	assert.Equal(t, "identity", got.Path.Minor)
	assert.Greater(t, got.Confidence, 0.0)
}

func TestClassify_FallbackQuestion(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	got := c.Classify("zzz qqq xxx?", Context{})
	assert.Equal(t, memtype.Path{Major: "temporal", Minor: "conversation", Detail: "question"}, got.Path)
	assert.Equal(t, 0.8, got.Confidence)
}

func TestClassify_FallbackShortStatement(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	got := c.Classify("zzz qqq xxx", Context{})
	assert.Equal(t, memtype.Path{Major: "temporal", Minor: "conversation", Detail: "statement"}, got.Path)
	assert.Equal(t, 0.5, got.Confidence)
}

func TestClassify_FallbackGeneral(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	got := c.Classify("zzz qqq xxx yyy www vvv uuu ttt sss rrr ppp", Context{})
	assert.Equal(t, memtype.Fallback, got.Path)
	assert.Equal(t, 0.3, got.Confidence)
}

func TestClassify_ContextBoostFavorsPrevious(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	prev := memtype.Path{Major: "personal", Minor: "preference", Detail: "food"}
	// "like" appears in general preference and could tie with other
	// matches; the previous-type boost should tilt the result toward prev
	// whenever prev is among the scored paths.
	ctx := Context{PreviousType: prev, HasPrevious: true}
	got := c.Classify("I like this food and style a lot", ctx)
	assert.Equal(t, prev, got.Path)
}

func TestImportance_ClampedAndPrefixed(t *testing.T) {
	c := Classification{Path: memtype.Path{Major: "personal", Minor: "identity", Detail: "name"}, Confidence: 1.0}
	imp := Importance(c)
	assert.LessOrEqual(t, imp, 10.0)
	assert.GreaterOrEqual(t, imp, 0.0)
	assert.Equal(t, 10.0, imp) // base 9.0 + 2*1.0 clamped to 10
}

func TestImportance_UnknownPrefixDefaultsToFive(t *testing.T) {
	c := Classification{Path: memtype.Path{Major: "unknown", Minor: "unknown", Detail: "x"}, Confidence: 0}
	assert.Equal(t, 5.0, Importance(c))
}

func TestRelatedTypes_IncludesSiblingsAndCurated(t *testing.T) {
	c := Classification{Path: memtype.Path{Major: "personal", Minor: "identity", Detail: "name"}}
	related := RelatedTypes(c)
	require.NotEmpty(t, related)

	found := map[memtype.Path]bool{}
	for _, p := range related {
		found[p] = true
	}
	assert.True(t, found[memtype.Path{Major: "personal", Minor: "identity", Detail: "age"}])
	assert.True(t, found[memtype.Path{Major: "personal", Minor: "identity", Detail: "location"}])
	assert.False(t, found[c.Path], "classification's own path must not appear in its related set")
}
