// Package version implements the field-wise numeric comparison used by
// the self-update engine. Installer feed versions are plain dotted
// numerics ("0.9", "1.10.2") without a "v" prefix, so semver libraries
// don't apply here: "1.9" must sort below "1.10".
package version

import (
	"strconv"
	"strings"
)

// Compare returns -1, 0, or +1 ordering a against b.
// Fields are split on '.', compared numerically left to right; the
// shorter version is zero-padded so "2.0" equals "2.0.0". Non-numeric
// junk in a field (e.g. a stray "-beta" suffix) is ignored past the
// leading digits; a field with no digits at all counts as zero.
func Compare(a, b string) int {
	af := strings.Split(strings.TrimSpace(a), ".")
	bf := strings.Split(strings.TrimSpace(b), ".")

	n := len(af)
	if len(bf) > n {
		n = len(bf)
	}

	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(af) {
			av = numericPrefix(af[i])
		}
		if i < len(bf) {
			bv = numericPrefix(bf[i])
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// numericPrefix parses the leading digits of a field.
func numericPrefix(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return v
}
