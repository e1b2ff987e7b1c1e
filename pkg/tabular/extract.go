package tabular

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// PreferredKeys are the column names searched for a keyword, in order.
var PreferredKeys = []string{"keyword", "keywords", "query", "search", "title", "name"}

// ExtractKeyword returns the trimmed keyword of row. Each preferred key is
// tried as written, UPPERCASE and Capitalized; failing all of them the
// first non-blank cell in header order is used.
func ExtractKeyword(row Row) string {
	for _, key := range PreferredKeys {
		for _, name := range []string{key, strings.ToUpper(key), capitalize(key)} {
			if v, ok := row.Get(name); ok {
				if v = strings.TrimSpace(v); v != "" {
					return v
				}
			}
		}
	}

	for _, c := range row.cells {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

// ExtractKeywords extracts one keyword per row, dropping rows that yield none.
func ExtractKeywords(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if kw := ExtractKeyword(row); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// Dedupe removes repeated items, keeping the first occurrence of each.
func Dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
