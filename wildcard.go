package xd2031

// MatchWildcard reports whether name matches the CBM-style pattern: '?'
// matches exactly one character, '*' matches zero or more (C10, §4.10).
// In standard mode '*' consumes the remainder of the string outright
// (CBM DOS's actual behavior: nothing meaningful ever follows a wildcard
// star in a real directory match). Advanced mode instead backtracks,
// allowing literal text after a '*' to still anchor correctly - useful for
// patterns like "*.PRG" that name callers commonly expect to work.
func MatchWildcard(pattern, name string, advanced bool) bool {
	if advanced {
		return matchAdvanced(pattern, name)
	}
	return matchStandard(pattern, name)
}

func matchStandard(pattern, name string) bool {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			return true
		case '?':
			if i >= len(name) {
				return false
			}
		default:
			if i >= len(name) || pattern[i] != name[i] {
				return false
			}
		}
	}
	return len(pattern) == len(name)
}

// matchAdvanced is a standard backtracking glob matcher over '?' and '*'.
func matchAdvanced(pattern, name string) bool {
	var p, n int
	starP, starN := -1, -1
	for n < len(name) {
		if p < len(pattern) && (pattern[p] == '?' || pattern[p] == name[n]) {
			p++
			n++
			continue
		}
		if p < len(pattern) && pattern[p] == '*' {
			starP = p
			starN = n
			p++
			continue
		}
		if starP >= 0 {
			starN++
			n = starN
			p = starP + 1
			continue
		}
		return false
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
