package search

import (
	"regexp"
	"strings"
)

var advancedPattern = regexp.MustCompile(`(?i)"|\bAND\b|\bNOT\b|\*`)

// HasAdvancedOperators reports whether a term uses quotes, AND/NOT or a
// trailing wildcard. Operator detection is case-insensitive.
func HasAdvancedOperators(term string) bool {
	return advancedPattern.MatchString(term)
}

func quote(word string) string {
	return `"` + strings.ReplaceAll(word, `"`, `""`) + `"`
}

// simpleQuery ORs every keyword as a quoted phrase.
func simpleQuery(keywords []string) string {
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		parts = append(parts, quote(k))
	}
	return strings.Join(parts, " OR ")
}

// advancedQuery turns user terms into an FTS5 expression: operators are
// upper-cased, bare words quoted, prefix and phrase syntax kept. Terms are
// grouped and ORed together. Malformed input (an unclosed quote, a leading
// NOT) is passed through so FTS5 rejects it.
func advancedQuery(keywords []string) string {
	var groups []string
	for _, k := range keywords {
		tokens := tokenize(k)
		if len(tokens) == 0 {
			continue
		}
		groups = append(groups, "("+strings.Join(tokens, " ")+")")
	}
	return strings.Join(groups, " OR ")
}

func tokenize(term string) []string {
	var tokens []string
	rs := []rune(strings.TrimSpace(term))
	for i := 0; i < len(rs); {
		switch r := rs[i]; {
		case r == ' ' || r == '\t' || r == '\n':
			i++
		case r == '(' || r == ')':
			tokens = append(tokens, string(r))
			i++
		case r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				j++
			}
			if j >= len(rs) {
				// Unclosed phrase: keep verbatim.
				tokens = append(tokens, string(rs[i:]))
				return tokens
			}
			phrase := string(rs[i : j+1])
			j++
			if j < len(rs) && rs[j] == '*' {
				phrase += "*"
				j++
			}
			tokens = append(tokens, phrase)
			i = j
		default:
			j := i
			for j < len(rs) && !strings.ContainsRune(" \t\n()\"", rs[j]) {
				j++
			}
			word := string(rs[i:j])
			i = j
			switch upper := strings.ToUpper(word); upper {
			case "AND", "OR", "NOT":
				tokens = append(tokens, upper)
			default:
				if stem, ok := strings.CutSuffix(word, "*"); ok && stem != "" {
					tokens = append(tokens, quote(strings.TrimRight(stem, "*"))+"*")
				} else if stem != "" || word != "*" {
					tokens = append(tokens, quote(word))
				}
			}
		}
	}
	return tokens
}

// strippedWords extracts the plain words of the terms, dropping operators and
// FTS syntax characters.
func strippedWords(keywords []string) []string {
	var words []string
	for _, k := range keywords {
		cleaned := strings.NewReplacer(`"`, " ", "*", " ", "(", " ", ")", " ").Replace(k)
		for _, w := range strings.Fields(cleaned) {
			switch strings.ToUpper(w) {
			case "AND", "OR", "NOT":
				continue
			}
			words = append(words, w)
		}
	}
	return words
}
