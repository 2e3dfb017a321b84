package content

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/juyoung-min/memory-agent/pkg/classify"
	"github.com/juyoung-min/memory-agent/pkg/memtype"
)

type fakeStopWords struct{ words map[string]bool }

func (f fakeStopWords) Contains(s string) bool { return f.words[s] }

func newTestRegistry() *Registry {
	return NewRegistry(fakeStopWords{words: map[string]bool{"the": true, "a": true, "is": true}})
}

func TestNormalize_CollapsesWhitespaceAndCorrects(t *testing.T) {
	got := Normalize("teh   quick\n\tfox")
	assert.Equal(t, "the quick fox", got)
}

func TestExtractEntities_Name(t *testing.T) {
	r := newTestRegistry()
	entities := r.ExtractEntities("My name is Alice and I live in Seoul")

	var names []string
	for _, e := range entities {
		if e.Type == "name" {
			names = append(names, e.Value)
		}
	}
	assert.Contains(t, names, "Alice and I live in Seoul")
}

func TestExtractEntities_Skill(t *testing.T) {
	r := newTestRegistry()
	entities := r.ExtractEntities("I have been learning golang and docker")

	var skills []string
	for _, e := range entities {
		if e.Type == "skill" {
			skills = append(skills, e.Value)
		}
	}
	assert.Contains(t, skills, "golang")
	assert.Contains(t, skills, "docker")
}

func TestExtractKeywords_DropsStopWordsAndShortTokens(t *testing.T) {
	r := newTestRegistry()
	got := r.ExtractKeywords("the quick fox is a runner")
	assert.NotContains(t, got, "the")
	assert.NotContains(t, got, "is")
	assert.NotContains(t, got, "a")
	assert.Contains(t, got, "quick")
	assert.Contains(t, got, "fox")
	assert.Contains(t, got, "runner")
}

func TestExtractKeywords_TruncatesToTen(t *testing.T) {
	r := newTestRegistry()
	got := r.ExtractKeywords("alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu")
	assert.Len(t, got, 10)
}

func TestSummarize_ShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "hello", Summarize("hello", 100))
}

func TestSummarize_PicksPriorityMarkerSentence(t *testing.T) {
	long := "This is just filler text that goes on and on without much point to it at all here. " +
		"Remember this is important information you must keep. " +
		"And some trailing filler that continues on afterward as well."
	got := Summarize(long, 40)
	assert.LessOrEqual(t, len(got), 40)
	assert.Contains(t, got, "Remember")
}

func TestProcess_ConversationQuestionIsImportant(t *testing.T) {
	r := newTestRegistry()
	cls := classify.Classification{Path: memtype.Path{Major: "temporal", Minor: "conversation", Detail: "question"}}
	out := r.Process("What time is it?", cls)
	assert.Equal(t, memtype.FormatFull, out.Format)
	assert.True(t, out.ShouldStore)
	assert.Equal(t, 7.0, out.Importance)
}

func TestProcess_IdentityAlwaysStoresWhenEntityFound(t *testing.T) {
	r := newTestRegistry()
	cls := classify.Classification{Path: memtype.Path{Major: "personal", Minor: "identity", Detail: "name"}}
	out := r.Process("My name is Bob", cls)
	assert.True(t, out.ShouldStore)
	assert.Equal(t, 9.0, out.Importance)
	assert.Equal(t, memtype.FormatJSON, out.Format)
}

func TestProcess_PreferenceLike(t *testing.T) {
	r := newTestRegistry()
	cls := classify.Classification{Path: memtype.Path{Major: "personal", Minor: "preference", Detail: "like"}}
	out := r.Process("I like python programming", cls)
	assert.True(t, out.ShouldStore)
	assert.Equal(t, "like", out.StructuredContent["preference_type"])
	assert.Equal(t, 6.7, out.Importance)
}

func TestProcess_PreferenceDislikeIsLessImportantThanLike(t *testing.T) {
	r := newTestRegistry()
	cls := classify.Classification{Path: memtype.Path{Major: "personal", Minor: "preference", Detail: "dislike"}}
	out := r.Process("I dislike cold weather", cls)
	assert.True(t, out.ShouldStore)
	assert.Equal(t, "dislike", out.StructuredContent["preference_type"])
	assert.Equal(t, 6.3, out.Importance)
}

func TestProcess_ExperienceRequiresWordCount(t *testing.T) {
	r := newTestRegistry()
	cls := classify.Classification{Path: memtype.Path{Major: "knowledge", Minor: "experience", Detail: "recent"}}
	out := r.Process("short", cls)
	assert.False(t, out.ShouldStore)
}

func TestProcess_FactStoresWithEnoughKeywords(t *testing.T) {
	r := newTestRegistry()
	cls := classify.Classification{Path: memtype.Path{Major: "knowledge", Minor: "fact", Detail: "general"}}
	out := r.Process("quantum computers use qubits entanglement superposition", cls)
	assert.True(t, out.ShouldStore)
}
