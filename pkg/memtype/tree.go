// Package memtype defines the hierarchical memory-type taxonomy (§3, §4.1,
// Glossary): a closed three-level path `major/minor/detail`. The taxonomy is
// closed by design (§9: "a tagged variant over MemoryType... avoid
// inheritance; the type taxonomy is closed") so every dispatch in C2/C3 can
// switch on Major/Minor exhaustively.
package memtype

import (
	"fmt"
	"strings"

	trie "github.com/derekparker/trie/v3"
)

// Major is the top level of the hierarchical type.
type Major string

const (
	MajorPersonal Major = "personal"
	MajorKnowledge Major = "knowledge"
	MajorTemporal Major = "temporal"
)

// Path is a fully-qualified major/minor/detail memory type.
type Path struct {
	Major  string
	Minor  string
	Detail string
}

// String renders the canonical "major/minor/detail" form.
func (p Path) String() string {
	return fmt.Sprintf("%s/%s/%s", p.Major, p.Minor, p.Detail)
}

// Prefix renders "major/minor" with no detail.
func (p Path) Prefix() string {
	return fmt.Sprintf("%s/%s", p.Major, p.Minor)
}

// Fallback is the catch-all classification (§4.1 fallback policy, V4).
var Fallback = Path{Major: "knowledge", Minor: "fact", Detail: "general"}

// tree enumerates every valid path, per the Glossary.
var tree = map[string]map[string][]string{
	"personal": {
		"identity":   {"name", "age", "location", "gender", "family"},
		"preference": {"food", "music", "activity", "style", "general"},
		"profession": {"job", "company", "role", "career", "education"},
	},
	"knowledge": {
		"fact":       {"general", "specific", "historical", "current"},
		"skill":      {"technical", "language", "soft", "tool"},
		"experience": {"work", "personal", "achievement", "learning"},
	},
	"temporal": {
		"conversation": {"question", "statement", "greeting", "response"},
		"context":      {"current", "past", "future", "session"},
	},
}

// prefixIndex is a trie over every minor prefix ("major/minor") backing
// RelatedTypes' prefix lookups; Valid reads the tree map directly.
var prefixIndex *trie.Trie[[]string]

func init() {
	prefixIndex = trie.New[[]string]()
	for major, minors := range tree {
		for minor, details := range minors {
			prefixIndex.Add(major+"/"+minor, details)
		}
	}
}

// Valid reports whether p is one of the enumerated paths.
func (p Path) Valid() bool {
	minors, ok := tree[p.Major]
	if !ok {
		return false
	}
	details, ok := minors[p.Minor]
	if !ok {
		return false
	}
	for _, d := range details {
		if d == p.Detail {
			return true
		}
	}
	return false
}

// Parse splits a "major/minor/detail" string into a Path without validating
// it against the tree (use Valid for that) — this only checks shape, so
// malformed input surfaces as ValidationError at the Classifier boundary
// rather than here.
func Parse(s string) (Path, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Path{}, fmt.Errorf("memtype: %q is not a major/minor/detail path", s)
	}
	return Path{Major: parts[0], Minor: parts[1], Detail: parts[2]}, nil
}

// AllPaths enumerates every valid path in the taxonomy, in a stable order.
func AllPaths() []Path {
	order := []string{"personal", "knowledge", "temporal"}
	minorOrder := map[string][]string{
		"personal":  {"identity", "preference", "profession"},
		"knowledge": {"fact", "skill", "experience"},
		"temporal":  {"conversation", "context"},
	}
	var out []Path
	for _, major := range order {
		for _, minor := range minorOrder[major] {
			for _, detail := range tree[major][minor] {
				out = append(out, Path{Major: major, Minor: minor, Detail: detail})
			}
		}
	}
	return out
}

// RelatedTypes returns sibling detail paths under the same major/minor
// prefix (§4.1: "each classification exposes a small list of related
// paths"), consumed by the Retrieval Engine for query expansion. The lookup
// is a single trie hit on the major/minor prefix rather than a map scan.
func RelatedTypes(p Path) []Path {
	details, ok := prefixIndex.Find(p.Prefix())
	if !ok {
		return nil
	}
	related := make([]Path, 0, len(details)-1)
	for _, d := range details {
		if d == p.Detail {
			continue
		}
		related = append(related, Path{Major: p.Major, Minor: p.Minor, Detail: d})
	}
	return related
}

// MinorsOf returns the minors enumerated under a major.
func MinorsOf(major string) []string {
	minors, ok := tree[major]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(minors))
	for m := range minors {
		out = append(out, m)
	}
	return out
}
