// Package wild matches the *-and-? masks used by bans, x-lines, and
// WHOIS targets. Matching is byte-wise; callers fold case first.
package wild

// Match reports whether m matches the mask. '*' matches any run
// (including none), '?' matches exactly one byte, '\' escapes the
// wildcard that follows it.
func Match(mask, m string) bool {
	var mi, si int
	star, starSi := -1, 0

	for si < len(m) {
		if mi < len(mask) {
			switch mask[mi] {
			case '*':
				// remember the star so we can backtrack to it
				star, starSi = mi, si
				mi++
				continue
			case '?':
				mi++
				si++
				continue
			case '\\':
				if mi+1 < len(mask) && (mask[mi+1] == '*' || mask[mi+1] == '?') {
					if mask[mi+1] == m[si] {
						mi += 2
						si++
						continue
					}
				} else if mask[mi] == m[si] {
					mi++
					si++
					continue
				}
			default:
				if mask[mi] == m[si] {
					mi++
					si++
					continue
				}
			}
		}

		// mismatch; widen the most recent star by one byte, or fail
		if star == -1 {
			return false
		}
		starSi++
		mi, si = star+1, starSi
	}

	// remaining mask must be all stars
	for mi < len(mask) && mask[mi] == '*' {
		mi++
	}
	return mi == len(mask)
}
