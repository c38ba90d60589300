/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Glob-style pattern matching, ported from the host stack's glob.go
 * unchanged: a generic, domain-agnostic matcher with nothing MTP-specific
 * to adapt. Used by QuirkMatch.ModelGlob to match a quirk section against
 * a device's reported model string.
 */

package policy

// GlobMatch matches str against a glob-style pattern and returns a count
// of matched non-wildcard characters, or -1 if no match. Pattern syntax:
//
//	?   - matches exactly one character
//	*   - matches any sequence of characters
//	\C  - matches character C
//	C   - matches character C (C is not *, ? or \)
func GlobMatch(str, pattern string) int {
	return globMatchInternal(str, pattern, 0)
}

func globMatchInternal(str, pattern string, count int) int {
	for str != "" && pattern != "" {
		p := pattern[0]
		pattern = pattern[1:]

		switch p {
		case '*':
			for pattern != "" && pattern[0] == '*' {
				pattern = pattern[1:]
			}

			if pattern == "" {
				return count
			}

			for i := 0; i < len(str); i++ {
				c2 := globMatchInternal(str[i:], pattern, count)
				if c2 >= 0 {
					return c2
				}
			}

		case '?':
			str = str[1:]

		case '\\':
			if pattern == "" {
				return -1
			}
			p, pattern = pattern[0], pattern[1:]
			fallthrough

		default:
			if str[0] != p {
				return -1
			}
			str = str[1:]
			count++
		}
	}

	for pattern != "" && pattern[0] == '*' {
		pattern = pattern[1:]
	}

	if str == "" && pattern == "" {
		return count
	}

	return -1
}
