package content

import (
	"regexp"
	"sort"
	"strings"

	"github.com/juyoung-min/memory-agent/pkg/classify"
	"github.com/juyoung-min/memory-agent/pkg/memtype"
	"github.com/juyoung-min/memory-agent/pkg/pool"
)

// ProcessedContent is the Content Processor's output (§4.2).
type ProcessedContent struct {
	Format            memtype.StorageFormat
	StructuredContent map[string]any
	Summary           string
	Keywords          []string
	Entities          []memtype.Entity
	ShouldStore       bool
	Importance        float64
	Metadata          map[string]any
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// substringCorrections is the stable dictionary of corrections applied
// during normalization (§4.2 "apply a small dictionary of substring
// corrections (stable across runs)").
var substringCorrections = map[string]string{
	"teh ":  "the ",
	"i'm ":  "I'm ",
	"걸께":    "거예요",
}

// priorityMarkers picks the summary-worthy sentence when one exists (§4.2
// Summary: "first sentence containing a priority marker").
var priorityMarkers = []string{"important", "note", "remember", "중요", "꼭", "반드시"}

// stopSet is the language-neutral drop set layered on top of the
// orsinium-labs/stopwords English list (§4.2 keyword extraction).
var stopSet = map[string]bool{
	"은": true, "는": true, "이": true, "가": true, "을": true, "를": true,
	"의": true, "에": true, "에서": true, "그리고": true, "그래서": true,
}

// Normalize collapses whitespace runs and applies the stable correction
// dictionary (§4.2 Normalization).
func Normalize(text string) string {
	out := strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	for from, to := range substringCorrections {
		out = strings.ReplaceAll(out, from, to)
	}
	return out
}

// ExtractEntities runs every configured rule against text and returns the
// deduplicated, confidence-sorted entity list (§4.2 Entity extraction).
func (r *Registry) ExtractEntities(text string) []memtype.Entity {
	norm := Normalize(text)
	out := pool.GetEntitySlice()
	defer func() { out = nil }()

	for _, rule := range r.rules {
		var found []memtype.Entity
		for _, p := range rule.Patterns {
			switch p.Type {
			case PatternRegex:
				found = append(found, extractRegex(norm, p)...)
			case PatternKeyword:
				found = append(found, extractKeyword(norm, p)...)
			case PatternFuzzy:
				found = append(found, extractKeyword(norm, p)...) // §4.2: fuzzy falls back to keyword when no fuzzy lib is wired
			}
		}
		valid := found[:0]
		for _, e := range found {
			if rule.Validation.valid(e.Value) {
				valid = append(valid, e)
			}
		}
		for i := range valid {
			valid[i].Type = rule.EntityType
		}
		out = append(out, dedupeEntities(valid)...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	result := make([]memtype.Entity, len(out))
	copy(result, out)
	pool.PutEntitySlice(out[:0])
	return result
}

func extractRegex(text string, p ExtractionPattern) []memtype.Entity {
	var out []memtype.Entity
	for _, re := range p.Regexes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			value := m[0]
			if len(m) > 1 && strings.TrimSpace(m[1]) != "" {
				value = m[1]
			}
			out = append(out, memtype.Entity{Value: strings.TrimSpace(value), Confidence: PatternRegex.baseConfidence()})
		}
	}
	return out
}

func extractKeyword(text string, p ExtractionPattern) []memtype.Entity {
	lower := text
	if !p.CaseSensitive {
		lower = strings.ToLower(text)
	}
	var out []memtype.Entity
	for _, kw := range p.Keywords {
		needle := kw
		if !p.CaseSensitive {
			needle = strings.ToLower(kw)
		}
		if strings.Contains(lower, needle) {
			out = append(out, memtype.Entity{Value: kw, Confidence: PatternKeyword.baseConfidence()})
		}
	}
	return out
}

// dedupeEntities removes repeat values case-insensitively, keeping the
// first occurrence (§4.2's "_deduplicate_entities" mechanism).
func dedupeEntities(entities []memtype.Entity) []memtype.Entity {
	seen := make(map[string]bool, len(entities))
	out := make([]memtype.Entity, 0, len(entities))
	for _, e := range entities {
		key := strings.ToLower(e.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// ExtractKeywords tokenizes on whitespace, strips trailing particles, drops
// stop words, keeps tokens >=2 chars, dedupes preserving order, and
// truncates to 10 (§4.2 Keyword extraction).
func (r *Registry) ExtractKeywords(text string) []string {
	fields := strings.Fields(Normalize(text))
	seen := make(map[string]bool, len(fields))
	out := pool.GetKeywordSlice()
	defer func() { pool.PutKeywordSlice(out[:0]) }()

	for _, tok := range fields {
		tok = r.stripParticles(tok)
		tok = strings.Trim(tok, ".,!?;:\"'()[]{}")
		if len(tok) < 2 {
			continue
		}
		lower := strings.ToLower(tok)
		if stopSet[lower] {
			continue
		}
		if r.stopWords != nil && r.stopWords.Contains(lower) {
			continue
		}
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, tok)
		if len(out) >= 10 {
			break
		}
	}
	result := make([]string, len(out))
	copy(result, out)
	return result
}

func (r *Registry) stripParticles(tok string) string {
	for _, p := range r.particles {
		if strings.HasSuffix(tok, p) && len(tok) > len(p) {
			return strings.TrimSuffix(tok, p)
		}
	}
	return tok
}

// Summarize returns text unchanged when short enough; otherwise the first
// sentence carrying a priority marker, falling back to the first sentence,
// both truncated to maxLength (§4.2 Summary).
func Summarize(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	sentences := splitSentences(text)
	for _, s := range sentences {
		low := strings.ToLower(s)
		for _, marker := range priorityMarkers {
			if strings.Contains(low, marker) {
				return truncate(s, maxLength)
			}
		}
	}
	if len(sentences) > 0 {
		return truncate(sentences[0], maxLength)
	}
	return truncate(text, maxLength)
}

var sentenceSplit = regexp.MustCompile(`(?:[.!?]|다\.|요\.)\s+`)

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isInterrogative(text string) bool {
	return strings.Contains(text, "?")
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func clampImportance(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 10:
		return 10
	default:
		return v
	}
}

// Process dispatches on the classification's minor (§4.2 "Per-type
// processing"), building a ProcessedContent record. Grounded on the
// distilled spec's §4.2 table directly (the original implementation's
// per-type rules were folded into MemoryIntelligence.calculate_importance
// in an older, flatter form — this module implements the richer
// hierarchical table the distilled spec names).
func (r *Registry) Process(rawText string, cls classify.Classification) ProcessedContent {
	text := Normalize(rawText)
	entities := r.ExtractEntities(text)
	keywords := r.ExtractKeywords(text)
	meta := map[string]any{"minor": cls.Path.Minor, "detail": cls.Path.Detail}

	switch cls.Path.Minor {
	case "conversation":
		return r.processConversation(text, entities, keywords, meta)
	case "fact":
		return r.processFact(text, entities, keywords, meta)
	case "preference":
		return r.processPreference(text, entities, keywords, meta)
	case "identity":
		return r.processIdentity(text, entities, keywords, meta)
	case "skill":
		return r.processSkill(text, entities, keywords, meta)
	case "experience":
		return r.processExperience(text, entities, keywords, meta)
	default:
		return ProcessedContent{
			Format:      memtype.FormatFull,
			Summary:     Summarize(text, 200),
			Keywords:    keywords,
			Entities:    entities,
			ShouldStore: true,
			Importance:  5,
			Metadata:    meta,
		}
	}
}

func (r *Registry) processConversation(text string, entities []memtype.Entity, keywords []string, meta map[string]any) ProcessedContent {
	importance := 5.0
	if isInterrogative(text) {
		importance = 7.0
	}
	return ProcessedContent{
		Format:      memtype.FormatFull,
		Summary:     Summarize(text, 200),
		Keywords:    keywords,
		Entities:    entities,
		ShouldStore: true,
		Importance:  importance,
		Metadata:    meta,
	}
}

func (r *Registry) processFact(text string, entities []memtype.Entity, keywords []string, meta map[string]any) ProcessedContent {
	shouldStore := len(entities) > 0 || len(keywords) >= 3
	importance := clampImportance(6 + 0.5*float64(len(entities)) + 0.2*float64(len(keywords)))
	if importance > 9 {
		importance = 9
	}
	structured := map[string]any{"text": text, "entities": entities}
	return ProcessedContent{
		Format:            memtype.FormatStructured,
		StructuredContent: structured,
		Summary:           Summarize(text, 200),
		Keywords:          keywords,
		Entities:          entities,
		ShouldStore:       shouldStore,
		Importance:        importance,
		Metadata:          meta,
	}
}

func (r *Registry) processPreference(text string, entities []memtype.Entity, keywords []string, meta map[string]any) ProcessedContent {
	level, subject, prefType, ok := resolvePreference(text, entities)
	structured := map[string]any{
		"subject":           subject,
		"preference_type":   prefType,
		"preference_level":  level,
	}
	return ProcessedContent{
		Format:            memtype.FormatJSON,
		StructuredContent: structured,
		Summary:           Summarize(text, 200),
		Keywords:          keywords,
		Entities:          entities,
		ShouldStore:       ok,
		Importance:        6.0 + float64(level)/10,
		Metadata:          meta,
	}
}

var likeWords = []string{"좋아", "선호", "like", "prefer", "enjoy"}
var dislikeWords = []string{"싫어", "dislike", "hate"}

func resolvePreference(text string, entities []memtype.Entity) (level int, subject, prefType string, ok bool) {
	low := strings.ToLower(text)
	for _, w := range dislikeWords {
		if strings.Contains(low, w) {
			prefType, ok = "dislike", true
			break
		}
	}
	if !ok {
		for _, w := range likeWords {
			if strings.Contains(low, w) {
				prefType, ok = "like", true
				break
			}
		}
	}
	if !ok {
		return 0, "", "", false
	}
	level = 7
	if prefType == "dislike" {
		level = 3
	}
	for _, e := range entities {
		if e.Type == "preference" || e.Type == "skill" {
			subject = e.Value
			break
		}
	}
	return level, subject, prefType, true
}

func (r *Registry) processIdentity(text string, entities []memtype.Entity, keywords []string, meta map[string]any) ProcessedContent {
	identity := map[string]any{}
	for _, e := range entities {
		switch e.Type {
		case "name", "age", "location", "company":
			identity[e.Type] = e.Value
		}
	}
	return ProcessedContent{
		Format:            memtype.FormatJSON,
		StructuredContent: identity,
		Summary:           Summarize(text, 200),
		Keywords:          keywords,
		Entities:          entities,
		ShouldStore:       len(identity) > 0,
		Importance:        9,
		Metadata:          meta,
	}
}

var levelWords = map[string]string{
	"beginner":     "beginner",
	"초보":           "beginner",
	"intermediate": "intermediate",
	"중급":           "intermediate",
	"expert":       "expert",
	"전문가":          "expert",
	"숙련":           "expert",
}

func (r *Registry) processSkill(text string, entities []memtype.Entity, keywords []string, meta map[string]any) ProcessedContent {
	var skills []string
	for _, e := range entities {
		if e.Type == "skill" {
			skills = append(skills, e.Value)
		}
	}
	level := ""
	low := strings.ToLower(text)
	for word, lv := range levelWords {
		if strings.Contains(low, word) {
			level = lv
			break
		}
	}
	structured := map[string]any{"skills": skills}
	if level != "" {
		structured["level"] = level
	}
	return ProcessedContent{
		Format:            memtype.FormatJSON,
		StructuredContent: structured,
		Summary:           Summarize(text, 200),
		Keywords:          keywords,
		Entities:          entities,
		ShouldStore:       len(skills) > 0,
		Importance:        7.5,
		Metadata:          meta,
	}
}

var recentWords = []string{"최근", "지금", "현재", "recently", "currently", "now"}

func (r *Registry) processExperience(text string, entities []memtype.Entity, keywords []string, meta map[string]any) ProcessedContent {
	wc := wordCount(text)
	shouldStore := wc > 10
	recentBoost := 0.0
	low := strings.ToLower(text)
	for _, w := range recentWords {
		if strings.Contains(low, w) {
			recentBoost = 1.0
			break
		}
	}
	lengthBoost := 0.0
	switch {
	case wc > 40:
		lengthBoost = 1.0
	case wc > 20:
		lengthBoost = 0.5
	}
	importance := 7 + recentBoost + lengthBoost
	if importance > 9 {
		importance = 9
	}
	return ProcessedContent{
		Format:      memtype.FormatFull,
		Summary:     Summarize(text, 200),
		Keywords:    keywords,
		Entities:    entities,
		ShouldStore: shouldStore,
		Importance:  importance,
		Metadata:    meta,
	}
}
