package rsync

import (
	"io"
	"strings"
)

// ExcludeRules converts full-path globs into rsync exclude rules with the
// same meaning. rsync's '*' stops at '/', so it is widened to '**', and
// brace alternatives, which rsync lacks, are expanded.
func ExcludeRules(patterns []string) []string {
	var rules []string
	for _, p := range patterns {
		for _, alt := range expandBraces(p) {
			rules = append(rules, widenStars(alt))
		}
	}
	return rules
}

// WriteExcludeRules writes ExcludeRules(patterns) one per line.
func WriteExcludeRules(w io.Writer, patterns []string) error {
	for _, r := range ExcludeRules(patterns) {
		if _, err := io.WriteString(w, r+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func widenStars(p string) string {
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		switch {
		case p[i] == '\\' && i+1 < len(p):
			b.WriteByte(p[i])
			b.WriteByte(p[i+1])
			i++
		case p[i] == '*':
			j := i
			for j < len(p) && p[j] == '*' {
				j++
			}
			b.WriteString("**")
			i = j - 1
		default:
			b.WriteByte(p[i])
		}
	}
	return b.String()
}

// expandBraces expands the first top-level {a,b} group and recurses.
// Unbalanced braces are kept literally.
func expandBraces(p string) []string {
	open := -1
	depth := 0
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '\\':
			i++
		case '{':
			if depth == 0 {
				open = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth > 0 {
				continue
			}
			prefix, body, suffix := p[:open], p[open+1:i], p[i+1:]
			var out []string
			for _, alt := range splitTopLevel(body) {
				out = append(out, expandBraces(prefix+alt+suffix)...)
			}
			return out
		}
	}
	return []string{p}
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
