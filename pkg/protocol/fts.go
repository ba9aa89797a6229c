package protocol

import "strings"

// SanitizeFTS5Query turns free text into a match expression FTS5 will not
// misread. Every term is double-quoted, since bare words like "and" or "not"
// would otherwise parse as operators, and terms are joined with OR: the
// implicit AND between unquoted terms would require every word to appear,
// which starves similarity lookups.
func SanitizeFTS5Query(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return query
	}
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		// Interior double quotes would terminate the quoted term early.
		term = strings.ReplaceAll(term, `"`, "")
		if term == "" {
			continue
		}
		out = append(out, `"`+term+`"`)
	}
	return strings.Join(out, " OR ")
}
