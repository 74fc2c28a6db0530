package consttime

import "crypto/subtle"

// Equal reports whether a and b hold the same bytes.
// It always walks max(len(a), len(b)) bytes.
func Equal(a, b []byte) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	var diff byte
	for i := 0; i < n; i++ {
		var av, bv byte
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		diff |= av ^ bv
	}

	sameLen := subtle.ConstantTimeEq(int32(len(a)), int32(len(b))) // #nosec G115 -- inputs are bounded by callers (hashes, tokens).
	return subtle.ConstantTimeByteEq(diff, 0)&sameLen == 1
}

// EqualString is Equal for strings.
func EqualString(a, b string) bool {
	return Equal([]byte(a), []byte(b))
}
