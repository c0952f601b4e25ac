package ingestion

import (
	"path"
	"sort"
	"strings"
	"unicode"
)

// Directory prefixes of the original file set
const (
	SectionsDir = "sections/"
	TablesDir   = "tables/"
	FiguresDir  = "figures/"
)

// sectionOrder lists the well-known section stems in document order
var sectionOrder = []string{
	"introduction",
	"methodology",
	"research_areas",
	"detailed_results",
	"results",
	"conclusion",
}

var sectionTitles = map[string]string{
	"research_areas":   "Research Areas",
	"detailed_results": "Detailed Results",
	"results":          "Results Discussion",
}

// Stem returns the base name of p without its extension
func Stem(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

// OrderSections sorts section paths: well-known stems first in document order, then the
// rest alphabetically.
func OrderSections(paths []string) []string {
	rank := make(map[string]int, len(sectionOrder))
	for i, name := range sectionOrder {
		rank[name] = i
	}
	out := append([]string(nil), paths...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iKnown := rank[Stem(out[i])]
		rj, jKnown := rank[Stem(out[j])]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// SectionTitle returns the heading of a section: a leading "# " line of its content,
// else a well-known title for its stem, else the title-cased stem.
func SectionTitle(p string, content []byte) string {
	first, _, _ := strings.Cut(strings.TrimSpace(string(content)), "\n")
	if strings.HasPrefix(first, "# ") {
		return strings.TrimSpace(strings.TrimPrefix(first, "# "))
	}
	stem := Stem(p)
	if title, ok := sectionTitles[stem]; ok {
		return title
	}
	return TitleCase(stem)
}

// SectionBody returns the content without the leading "# " heading line
func SectionBody(content []byte) string {
	text := strings.TrimSpace(string(content))
	first, rest, _ := strings.Cut(text, "\n")
	if strings.HasPrefix(first, "# ") {
		return strings.TrimSpace(rest)
	}
	return text
}

// FigureCaption derives a caption from a figure's file name: underscores and dashes
// become spaces and each word is capitalized.
func FigureCaption(p string) string {
	return TitleCase(Stem(p))
}

// TitleCase turns "model_performance" into "Model Performance". A leading numeric
// ordering prefix ("02_") is dropped.
func TitleCase(stem string) string {
	words := strings.FieldsFunc(stem, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	if len(words) > 1 && strings.IndexFunc(words[0], func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		words = words[1:]
	}
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// Slug makes a file-name-safe stem from a heading
func Slug(title string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	s := strings.TrimSuffix(b.String(), "_")
	if s == "" {
		return "section"
	}
	return s
}
