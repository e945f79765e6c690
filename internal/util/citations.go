package util

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reBoldCitation   = regexp.MustCompile(`\*\*\s*(\[\[?[0-9,\s]+\]?\])\s*\*\*`)
	reSingleCitation = regexp.MustCompile(`\[([0-9]+(?:\s*,\s*[0-9]+)*)\](\()?`)
	reDoubleCitation = regexp.MustCompile(`\[\[([0-9]+(?:\s*,\s*[0-9]+)*)\]\]`)
	reCitationToken  = regexp.MustCompile(`\[\[([0-9]+)\]\]`)
	reRepeatedToken  = regexp.MustCompile(`(\[\[[0-9]+\]\])(?:[\t ]*(\[\[[0-9]+\]\]))+`)
)

// NormalizeCitations rewrites the citation variants models tend to produce
// ([3], **[[3]]**, [[1, 2]]) into canonical [[n]] markers and collapses
// adjacent repeats of the same marker. Markdown links are left untouched.
func NormalizeCitations(s string) string {
	s = reBoldCitation.ReplaceAllString(s, "$1")

	s = reDoubleCitation.ReplaceAllStringFunc(s, func(m string) string {
		inner := reDoubleCitation.FindStringSubmatch(m)[1]
		return expandCitationList(inner)
	})

	s = upgradeSingleCitations(s)

	return reRepeatedToken.ReplaceAllStringFunc(s, dedupeAdjacentCitations)
}

func upgradeSingleCitations(s string) string {
	matches := reSingleCitation.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	cursor := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		// already part of a [[n]] marker
		if start > 0 && s[start-1] == '[' {
			continue
		}
		if end < len(s) && s[end] == ']' {
			continue
		}
		// markdown link text such as [1](http://...)
		if m[4] != -1 {
			continue
		}
		b.WriteString(s[cursor:start])
		b.WriteString(expandCitationList(s[m[2]:m[3]]))
		cursor = end
	}
	b.WriteString(s[cursor:])
	return b.String()
}

func expandCitationList(inner string) string {
	parts := strings.Split(inner, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tokens = append(tokens, "[["+p+"]]")
	}
	return strings.Join(tokens, " ")
}

func dedupeAdjacentCitations(run string) string {
	tokens := reCitationToken.FindAllString(run, -1)
	out := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		if i > 0 && tok == tokens[i-1] {
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// CitedIndices returns the distinct citation numbers referenced by [[n]]
// markers in order of first appearance.
func CitedIndices(s string) []int {
	matches := reCitationToken.FindAllStringSubmatch(s, -1)
	seen := make(map[int]struct{}, len(matches))
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
