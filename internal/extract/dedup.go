package extract

import (
	"strings"
)

// ReduceDuplicated keeps one copy of a block that a layout printed twice.
//
// It first tries the whole capture as "X X" or "XX". Failing that, it reads
// the shortest prefix that recurs immediately after itself and ends on a word
// boundary, which handles a doubled value followed by unrelated trailing text.
// Otherwise the first whitespace-delimited token is returned. Distinct fields
// that happen to share identical text defeat this, so treat the result as
// best-effort.
func ReduceDuplicated(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return ""
	}

	if half, ok := wholeRepeat(s); ok {
		return half
	}

	for n := 2; n <= len(s)/2; n++ {
		if s[n-1] == ' ' {
			continue
		}
		prefix, rest := s[:n], strings.TrimPrefix(s[n:], " ")
		if !strings.HasPrefix(rest, prefix) {
			continue
		}
		if end := len(prefix); end == len(rest) || rest[end] == ' ' {
			return prefix
		}
	}

	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}

func wholeRepeat(s string) (string, bool) {
	n := len(s)
	if n%2 == 1 {
		mid := n / 2
		if s[mid] == ' ' && s[:mid] == s[mid+1:] {
			return s[:mid], true
		}
		return "", false
	}
	if n > 0 && s[:n/2] == s[n/2:] {
		return s[:n/2], true
	}
	return "", false
}
