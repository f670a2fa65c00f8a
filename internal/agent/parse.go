package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// This file implements each agent's output grammar as plain regexp tag
// extraction rather than a full XML parser — the source's XML blocks are
// simple, flat, and occasionally contain characters (raw SQL with `<`/`>`
// comparisons) that break a strict XML parser. Per DESIGN NOTES, parse
// failure must not attempt heuristic recovery: every extractor here either
// finds its required tag or the caller returns ErrMalformedOutput.

var tagPattern = func(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<` + tag + `>(.*?)</` + tag + `>`)
}

// extractTag returns the trimmed contents of <tag>...</tag>, or false if
// absent.
func extractTag(output, tag string) (string, bool) {
	m := tagPattern(tag).FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// requireTag is extractTag but returns ErrMalformedOutput on miss.
func requireTag(output, tag string) (string, error) {
	v, ok := extractTag(output, tag)
	if !ok {
		return "", fmt.Errorf("%w: missing <%s>", ErrMalformedOutput, tag)
	}
	return v, nil
}

// extractBlocks returns the contents of every <tag>...</tag> occurrence,
// in document order — used for repeated elements like <subquery>,
// <issue>, <suggestion>.
func extractBlocks(output, tag string) []string {
	matches := tagPattern(tag).FindAllStringSubmatch(output, -1)
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, strings.TrimSpace(m[1]))
	}
	return blocks
}

// extractSelfClosingAttrs parses `<tag attr1="v1" attr2="v2"/>` style
// elements (used for <column name="x" usage="select"/>) into a map.
func extractSelfClosingAttrs(output, tag string) []map[string]string {
	re := regexp.MustCompile(`(?i)<` + tag + `\s+([^/>]*)/?>`)
	attrRe := regexp.MustCompile(`(\w+)="([^"]*)"`)

	matches := re.FindAllStringSubmatch(output, -1)
	result := make([]map[string]string, 0, len(matches))
	for _, m := range matches {
		attrs := map[string]string{}
		for _, am := range attrRe.FindAllStringSubmatch(m[1], -1) {
			attrs[am[1]] = am[2]
		}
		result = append(result, attrs)
	}
	return result
}

// parseFloat parses s as a float, defaulting to 0 on a blank or malformed
// value rather than erroring — confidence scores are advisory, not a
// structural requirement of the grammar.
func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// splitCSV splits a comma-separated list, trimming blanks and dropping
// empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
