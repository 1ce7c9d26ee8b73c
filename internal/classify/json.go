package classify

import "strings"

// cleanJSON returns the first JSON object or array in a model reply. Anything
// before the opening delimiter (prose, a ```json fence) or after the balanced
// close is dropped. A reply cut off by the token limit is closed off so it can
// still be decoded.
func cleanJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return strings.TrimSpace(strings.Trim(strings.TrimSpace(text), "`"))
	}
	text = text[start:]

	var closers []byte
	var inStr, escaped bool
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inStr && c == '\\':
			escaped = true
		case c == '"':
			inStr = !inStr
		case inStr:
		case c == '{':
			closers = append(closers, '}')
		case c == '[':
			closers = append(closers, ']')
		case c == '}' || c == ']':
			if n := len(closers); n > 0 && closers[n-1] == c {
				closers = closers[:n-1]
				if n == 1 {
					return text[:i+1]
				}
			}
		}
	}

	// truncated
	out := strings.TrimSpace(text)
	if inStr {
		out += `"`
	}
	for i := len(closers) - 1; i >= 0; i-- {
		out = strings.TrimRight(out, " \t\r\n,") + string(closers[i])
	}
	return out
}
