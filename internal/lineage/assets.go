package lineage

import (
	"regexp"
	"strings"
)

// DefaultNamespaces are the schemas recognized in free text when none are
// configured.
var DefaultNamespaces = []string{"raw", "curated", "analytics"}

// Extractor finds namespace-qualified asset ids such as curated.sales_orders in
// free text. It is immutable and safe for concurrent use.
type Extractor struct {
	namespaces []string
	re         *regexp.Regexp
}

// NewExtractor builds an Extractor for the given namespaces. Blank entries are
// ignored; an empty list falls back to DefaultNamespaces.
func NewExtractor(namespaces []string) *Extractor {
	var ns []string
	seen := make(map[string]bool)
	for _, n := range namespaces {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		ns = append(ns, n)
	}
	if len(ns) == 0 {
		ns = append(ns, DefaultNamespaces...)
	}

	quoted := make([]string, len(ns))
	for i, n := range ns {
		quoted[i] = regexp.QuoteMeta(n)
	}
	re := regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\.[A-Za-z0-9_]+`)

	return &Extractor{namespaces: ns, re: re}
}

// Namespaces returns the recognized namespaces.
func (x *Extractor) Namespaces() []string {
	return append([]string(nil), x.namespaces...)
}

// Extract returns the distinct asset ids mentioned in text, in order of first
// appearance.
func (x *Extractor) Extract(text string) []string {
	matches := x.re.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Mentions reports whether text references at least one recognized asset.
func (x *Extractor) Mentions(text string) bool {
	return x.re.MatchString(text)
}
