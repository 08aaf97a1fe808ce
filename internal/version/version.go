// Package version compares semantic application versions.
package version

import (
	"strconv"
	"strings"
)

// Compare returns -1, 0, or 1 as a is lower than, equal to, or higher
// than b. Versions are dotted integer triples (major.minor.patch); missing
// trailing components count as 0, a leading "v" is ignored, and non-numeric
// components compare as 0.
func Compare(a, b string) int {
	av := parse(a)
	bv := parse(b)
	for i := 0; i < 3; i++ {
		if av[i] != bv[i] {
			if av[i] < bv[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Newer reports whether candidate is strictly higher than current.
func Newer(candidate, current string) bool {
	return Compare(candidate, current) > 0
}

func parse(v string) [3]int {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "v")
	// Pre-release/build suffixes are not part of the product's scheme;
	// strip anything after the first dash or plus.
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}

	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			n = 0
		}
		out[i] = n
	}
	return out
}
