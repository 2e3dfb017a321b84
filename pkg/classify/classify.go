// Package classify implements the Classifier (C1, §4.1): keyword-weighted
// path scoring over the hierarchical memory-type tree (pkg/memtype), with
// context boosts and a three-step fallback policy.
//
// Grounded on hierarchical_memory_types.py's HierarchicalMemoryType.classify
// (exact keyword-map construction, weight formula, and fallback order), with
// the keyword scan itself performed by a single Aho-Corasick automaton
// instead of a per-keyword substring loop, following the
// ahocorasick.NewBuilder()...Build() pattern used in
// pkg/implicit-matcher/dictionary.go.
package classify

import (
	"sort"
	"strings"

	"github.com/coregx/ahocorasick"

	"github.com/juyoung-min/memory-agent/pkg/memtype"
)

// Classification is the Classifier's output (§4.1).
type Classification struct {
	Path       memtype.Path
	Confidence float64
}

// Context carries the session-local signal the Classifier boosts on (§4.1
// "apply context boosts").
type Context struct {
	// PreviousType is the prior classification's path in the same session,
	// if any.
	PreviousType memtype.Path
	HasPrevious  bool
	// ActiveTypes is the session's active-type set.
	ActiveTypes []memtype.Path
}

// triggerTree enumerates the trigger keywords per leaf path, bilingual
// (Korean/English) exactly as hierarchical_memory_types.py's type_tree.
var triggerTree = map[memtype.Path][]string{
	{Major: "personal", Minor: "identity", Detail: "name"}:     {"이름", "성함", "호칭", "name", "called"},
	{Major: "personal", Minor: "identity", Detail: "age"}:      {"나이", "살", "세", "출생", "age", "born"},
	{Major: "personal", Minor: "identity", Detail: "location"}: {"살고", "거주", "위치", "주소", "사는", "live", "location"},
	{Major: "personal", Minor: "identity", Detail: "gender"}:   {"성별", "남자", "여자", "gender"},
	{Major: "personal", Minor: "identity", Detail: "family"}:   {"가족", "부모", "형제", "자녀", "family"},

	{Major: "personal", Minor: "preference", Detail: "food"}:     {"먹는", "음식", "좋아하는", "싫어하는", "food", "eat", "taste"},
	{Major: "personal", Minor: "preference", Detail: "music"}:    {"음악", "노래", "듣는", "music", "song"},
	{Major: "personal", Minor: "preference", Detail: "activity"}: {"운동", "취미", "활동", "즐기는", "hobby", "activity"},
	{Major: "personal", Minor: "preference", Detail: "style"}:    {"스타일", "패션", "옷", "style", "fashion"},
	{Major: "personal", Minor: "preference", Detail: "general"}:  {"좋아", "싫어", "선호", "like", "dislike", "prefer"},

	{Major: "personal", Minor: "profession", Detail: "job"}:       {"직업", "일", "업무", "job", "work", "occupation"},
	{Major: "personal", Minor: "profession", Detail: "company"}:   {"회사", "직장", "근무", "company", "office"},
	{Major: "personal", Minor: "profession", Detail: "role"}:      {"역할", "직책", "담당", "role", "position", "title"},
	{Major: "personal", Minor: "profession", Detail: "career"}:    {"경력", "경험", "career", "experience"},
	{Major: "personal", Minor: "profession", Detail: "education"}: {"학교", "전공", "졸업", "education", "study"},

	{Major: "knowledge", Minor: "fact", Detail: "general"}:    {"사실", "정보", "알고", "fact", "information"},
	{Major: "knowledge", Minor: "fact", Detail: "specific"}:   {"구체적", "정확한", "specific", "exact"},
	{Major: "knowledge", Minor: "fact", Detail: "historical"}: {"과거", "역사", "예전", "history", "past"},
	{Major: "knowledge", Minor: "fact", Detail: "current"}:    {"현재", "지금", "최근", "current", "now"},

	{Major: "knowledge", Minor: "skill", Detail: "technical"}: {"기술", "프로그래밍", "개발", "코딩", "tech", "programming"},
	{Major: "knowledge", Minor: "skill", Detail: "language"}:  {"언어", "영어", "한국어", "language", "speak"},
	{Major: "knowledge", Minor: "skill", Detail: "soft"}:      {"소통", "리더십", "협업", "communication", "leadership"},
	{Major: "knowledge", Minor: "skill", Detail: "tool"}:      {"도구", "사용", "프로그램", "tool", "software"},

	{Major: "knowledge", Minor: "experience", Detail: "work"}:        {"프로젝트", "업무", "일했", "project", "worked"},
	{Major: "knowledge", Minor: "experience", Detail: "personal"}:    {"경험", "했던", "기억", "experience", "memory"},
	{Major: "knowledge", Minor: "experience", Detail: "achievement"}: {"성과", "달성", "이뤘", "achievement", "accomplished"},
	{Major: "knowledge", Minor: "experience", Detail: "learning"}:    {"배운", "학습", "공부", "learned", "studied"},

	{Major: "temporal", Minor: "conversation", Detail: "question"}:  {"뭐", "어떻게", "왜", "언제", "what", "how", "why"},
	{Major: "temporal", Minor: "conversation", Detail: "statement"}: {"입니다", "해요", "했어요", "is", "are", "was"},
	{Major: "temporal", Minor: "conversation", Detail: "greeting"}:  {"안녕", "반가", "hello", "hi"},
	{Major: "temporal", Minor: "conversation", Detail: "response"}:  {"네", "아니", "응답", "yes", "no", "response"},

	{Major: "temporal", Minor: "context", Detail: "current"}: {"지금", "오늘", "현재", "now", "today", "current"},
	{Major: "temporal", Minor: "context", Detail: "past"}:    {"어제", "예전", "과거", "yesterday", "before", "past"},
	{Major: "temporal", Minor: "context", Detail: "future"}:  {"내일", "나중", "계획", "tomorrow", "later", "plan"},
	{Major: "temporal", Minor: "context", Detail: "session"}: {"방금", "아까", "just", "recently"},
}

// importanceByPrefix maps major/minor prefixes to base importance, per
// hierarchical_memory_types.py's get_importance importance_map.
var importanceByPrefix = map[string]float64{
	"personal/identity":    9.0,
	"personal/profession":  8.5,
	"knowledge/skill":      8.0,
	"personal/preference":  7.0,
	"knowledge/experience": 7.0,
	"knowledge/fact":       6.0,
	"temporal/context":     4.0,
	"temporal/conversation": 3.0,
}

var importanceByMajor = map[string]float64{
	"personal": 7.0,
	"knowledge": 6.0,
	"temporal": 4.0,
}

// Classifier scores an utterance against the keyword tree with a single
// Aho-Corasick pass.
type Classifier struct {
	automaton    *ahocorasick.Automaton
	patterns     []string
	patternPaths [][]memtype.Path
	allPaths     []memtype.Path // stable order for deterministic tie-break
}

// New compiles the trigger tree into an automaton once at construction.
func New() (*Classifier, error) {
	patternIndex := make(map[string]int)
	var patterns []string
	var patternPaths [][]memtype.Path

	// Stable iteration order over the tree for deterministic pattern IDs.
	paths := memtype.AllPaths()
	for _, p := range paths {
		for _, kw := range triggerTree[p] {
			key := strings.ToLower(kw)
			idx, ok := patternIndex[key]
			if !ok {
				idx = len(patterns)
				patternIndex[key] = idx
				patterns = append(patterns, key)
				patternPaths = append(patternPaths, nil)
			}
			patternPaths[idx] = append(patternPaths[idx], p)
		}
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}

	return &Classifier{
		automaton:    automaton,
		patterns:     patterns,
		patternPaths: patternPaths,
		allPaths:     paths,
	}, nil
}

// Classify scores content against every path and returns the winner, or a
// fallback classification when nothing scores (§4.1 fallback policy).
func (c *Classifier) Classify(content string, ctx Context) Classification {
	lower := strings.ToLower(content)
	haystack := []byte(lower)

	scores := make(map[memtype.Path]float64)
	startedAt := make(map[memtype.Path]bool)

	matches := c.automaton.FindAllOverlapping(haystack)
	// Weight each matched pattern once per occurrence, as the keyword-map
	// substring scan does implicitly (re.g. repeated occurrences of the
	// same keyword add weight once per match position, matching the
	// Python "if keyword in content_lower" single-presence check would
	// undercount repeats; here every distinct occurrence contributes,
	// which only ever strengthens an already-winning path).
	for _, m := range matches {
		pattern := c.patterns[m.PatternID]
		weight := float64(len(pattern)) / 10.0
		atStart := m.Start == 0
		for _, p := range c.patternPaths[m.PatternID] {
			scores[p] += weightFor(weight, atStart)
			if atStart {
				startedAt[p] = true
			}
		}
	}

	c.applyContextBoosts(scores, ctx)

	if len(scores) == 0 {
		return fallback(content)
	}

	best, bestScore := argmax(scores, c.allPaths)
	confidence := bestConfidence(bestScore)
	return Classification{Path: best, Confidence: confidence}
}

func weightFor(weight float64, atStart bool) float64 {
	if atStart {
		return weight * 2
	}
	return weight
}

func bestConfidence(score float64) float64 {
	conf := score / 3.0
	if conf > 1.0 {
		return 1.0
	}
	return conf
}

// applyContextBoosts mirrors _apply_context_boosts: ×1.5 for the previous
// session classification, ×1.2 for each path in the session's active-type
// set.
func (c *Classifier) applyContextBoosts(scores map[memtype.Path]float64, ctx Context) {
	if ctx.HasPrevious {
		if s, ok := scores[ctx.PreviousType]; ok {
			scores[ctx.PreviousType] = s * 1.5
		}
	}
	for _, p := range ctx.ActiveTypes {
		if s, ok := scores[p]; ok {
			scores[p] = s * 1.2
		}
	}
}

// argmax picks the highest-scoring path, breaking ties by allPaths's stable
// enumeration order so Classify is deterministic (V5/§8 determinism law).
func argmax(scores map[memtype.Path]float64, order []memtype.Path) (memtype.Path, float64) {
	var best memtype.Path
	bestScore := -1.0
	found := false
	for _, p := range order {
		s, ok := scores[p]
		if !ok {
			continue
		}
		if !found || s > bestScore {
			best, bestScore, found = p, s, true
		}
	}
	return best, bestScore
}

// fallback applies the three-step policy in order (§4.1): "?" present →
// temporal/conversation/question; short utterance → temporal/conversation/
// statement; otherwise the V4 catch-all.
func fallback(content string) Classification {
	if strings.Contains(content, "?") {
		return Classification{Path: memtype.Path{Major: "temporal", Minor: "conversation", Detail: "question"}, Confidence: 0.8}
	}
	if len(strings.Fields(content)) < 10 {
		return Classification{Path: memtype.Path{Major: "temporal", Minor: "conversation", Detail: "statement"}, Confidence: 0.5}
	}
	return Classification{Path: memtype.Fallback, Confidence: 0.3}
}

// Importance derives the §4.1 importance value: base-by-prefix (falling
// back to base-by-major, then 5.0) plus 2×confidence, clamped to [0,10].
func Importance(c Classification) float64 {
	base, ok := importanceByPrefix[c.Path.Prefix()]
	if !ok {
		base, ok = importanceByMajor[c.Path.Major]
		if !ok {
			base = 5.0
		}
	}
	v := base + 2*c.Confidence
	switch {
	case v < 0:
		return 0
	case v > 10:
		return 10
	default:
		return v
	}
}

// RelatedTypes returns the classification's query-expansion set (§4.1): the
// curated relations from hierarchical_memory_types.py's get_related_types
// plus every sibling detail under the same major/minor (memtype.RelatedTypes),
// deduplicated.
func RelatedTypes(c Classification) []memtype.Path {
	curated := curatedRelations[c.Path]
	siblings := memtype.RelatedTypes(c.Path)

	seen := make(map[memtype.Path]bool, len(curated)+len(siblings))
	var out []memtype.Path
	add := func(p memtype.Path) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range curated {
		add(p)
	}
	for _, p := range siblings {
		add(p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// curatedRelations is the hand-picked relation table from
// hierarchical_memory_types.py's get_related_types.
var curatedRelations = map[memtype.Path][]memtype.Path{
	{Major: "personal", Minor: "identity", Detail: "name"}: {
		{Major: "personal", Minor: "identity", Detail: "age"},
		{Major: "personal", Minor: "identity", Detail: "location"},
	},
	{Major: "personal", Minor: "profession", Detail: "job"}: {
		{Major: "knowledge", Minor: "skill", Detail: "technical"},
		{Major: "knowledge", Minor: "experience", Detail: "work"},
	},
	{Major: "knowledge", Minor: "skill", Detail: "technical"}: {
		{Major: "knowledge", Minor: "experience", Detail: "work"},
		{Major: "personal", Minor: "profession", Detail: "job"},
	},
	{Major: "temporal", Minor: "conversation", Detail: "question"}: {
		{Major: "temporal", Minor: "conversation", Detail: "response"},
		{Major: "temporal", Minor: "context", Detail: "current"},
	},
}
