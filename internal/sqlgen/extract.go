package sqlgen

import (
	"regexp"
	"strings"
)

var fenced = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// ExtractSQL pulls the query out of a model answer. A fenced code block wins;
// otherwise the whole answer is used when it reads as a query. The text
// outside the block becomes the description.
func ExtractSQL(answer string) (query, description string) {
	if m := fenced.FindStringSubmatchIndex(answer); m != nil {
		query = strings.TrimSpace(answer[m[2]:m[3]])
		before, after := strings.TrimSpace(answer[:m[0]]), strings.TrimSpace(answer[m[1]:])
		description = strings.TrimSpace(before + " " + after)
		return strings.TrimSuffix(query, ";"), description
	}
	trimmed := strings.TrimSpace(answer)
	if LooksLikeQuery(trimmed) {
		return strings.TrimSuffix(trimmed, ";"), ""
	}
	return "", ""
}

// LooksLikeQuery reports whether sql is one statement starting with SELECT or
// WITH, ignoring leading comments.
func LooksLikeQuery(sql string) bool {
	s := stripLeadingComments(sql)
	if s == "" {
		return false
	}
	if i := strings.Index(s, ";"); i >= 0 && strings.TrimSpace(s[i+1:]) != "" {
		return false
	}
	word := strings.ToUpper(firstWord(s))
	return word == "SELECT" || word == "WITH"
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = s[i+2:]
		default:
			return s
		}
	}
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '(' {
			return s[:i]
		}
	}
	return s
}
