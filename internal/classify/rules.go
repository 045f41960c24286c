// Package classify decides whether each block of a parsed template is
// STATIC boilerplate or a DYNAMIC generation target. Rules run first; blocks
// the rules cannot settle go to the LLM; anything still uncertain falls back
// to STATIC, the conservative choice (never generate over content that might
// be fixed).
package classify

import (
	"regexp"
	"strings"

	"git.home.luguber.info/inful/docforge/internal/docmodel"
	"git.home.luguber.info/inful/docforge/internal/store"
)

// Method names the classifier that produced a result.
type Method string

const (
	MethodRules    Method = "RULES"
	MethodLLM      Method = "LLM"
	MethodFallback Method = "FALLBACK"
)

// Classification is one block's verdict.
type Classification struct {
	SectionType store.SectionType
	Confidence  float64
	Method      Method
	Reason      string
}

// staticPattern pins a block as STATIC boilerplate when its text matches.
// These run before any dynamic pattern: a copyright line containing a
// bracketed year must not be mistaken for a placeholder.
type staticPattern struct {
	re         *regexp.Regexp
	confidence float64
	reason     string
}

var staticPatterns = []staticPattern{
	{regexp.MustCompile(`(?i)\ball rights reserved\b`), 0.97, "legal disclaimer"},
	{regexp.MustCompile(`(?i)\b(confidential|proprietary|without warranty|as[- ]is|no liability|disclaimer)\b`), 0.90, "legal disclaimer"},
	{regexp.MustCompile(`(?i)(©|\(c\)|copyright)\s*\d{4}`), 0.97, "copyright notice"},
	{regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`), 0.92, "contact information"},
	{regexp.MustCompile(`(?i)\b(tel|phone|fax)\.?:?\s*\+?[\d\s().-]{7,}`), 0.92, "contact information"},
	{regexp.MustCompile(`(?i)^\s*page\s+\d+(\s+of\s+\d+)?\s*$`), 0.95, "page marker"},
}

// Placeholder syntaxes that mark a block as a generation target.
var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$\{[^}]+\}`),
	regexp.MustCompile(`\{[^{}]+\}`),
	regexp.MustCompile(`\[[^\[\]]+\]`),
	regexp.MustCompile(`<[^<>]+>`),
}

// Imperative lead-ins that template authors use to mark fill-in sections.
var instructionPhrases = []string{
	"insert ",
	"describe ",
	"provide ",
	"summarize ",
	"fill in",
	"tbd",
	"todo",
	"lorem ipsum",
}

const (
	shortTextLimit = 40
	longTextLimit  = 400
)

// ClassifyByRules applies the deterministic rule set to one block.
func ClassifyByRules(b *docmodel.Block) Classification {
	switch b.Type {
	case docmodel.BlockTypeHeader, docmodel.BlockTypeFooter:
		return Classification{store.SectionStatic, 0.95, MethodRules, "header/footer blocks are fixed chrome"}
	case docmodel.BlockTypePageBreak, docmodel.BlockTypeSectionBreak:
		return Classification{store.SectionStatic, 0.98, MethodRules, "break blocks carry no content"}
	case docmodel.BlockTypeTable:
		return Classification{store.SectionStatic, 0.80, MethodRules, "table structure is preserved as-is"}
	}

	text := b.Text()
	lower := strings.ToLower(text)

	for _, sp := range staticPatterns {
		if sp.re.MatchString(text) {
			return Classification{store.SectionStatic, sp.confidence, MethodRules, sp.reason + ": " + sp.re.FindString(text)}
		}
	}
	for _, re := range placeholderPatterns {
		if re.MatchString(text) {
			return Classification{store.SectionDynamic, 0.95, MethodRules, "placeholder pattern: " + re.FindString(text)}
		}
	}
	for _, phrase := range instructionPhrases {
		if strings.Contains(lower, phrase) {
			return Classification{store.SectionDynamic, 0.90, MethodRules, "instruction phrase: " + strings.TrimSpace(phrase)}
		}
	}

	if b.Type == docmodel.BlockTypeHeading && b.Level == 1 {
		return Classification{store.SectionStatic, 0.70, MethodRules, "top-level headings are usually fixed"}
	}

	trimmed := strings.TrimSpace(text)
	switch {
	case len(trimmed) == 0:
		return Classification{store.SectionStatic, 0.90, MethodRules, "empty block"}
	case len(trimmed) <= shortTextLimit:
		return Classification{store.SectionStatic, 0.72, MethodRules, "short fixed text"}
	case len(trimmed) >= longTextLimit:
		return Classification{store.SectionDynamic, 0.72, MethodRules, "long prose is likely a generation target"}
	}

	return Classification{store.SectionStatic, 0.50, MethodRules, "no rule matched decisively"}
}
