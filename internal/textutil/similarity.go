package textutil

// Ratio computes a sequence-matching similarity between two strings: twice
// the total length of matching blocks divided by the combined length.
// Returns 1 for two empty strings and 0 when nothing matches. Inputs are
// compared as-is; callers normalize first.
func Ratio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	matched := matchingRunes(ra, rb)
	return float64(2*matched) / float64(total)
}

// NormalizedRatio normalizes both inputs before computing Ratio.
func NormalizedRatio(a, b string) float64 {
	return Ratio(Normalize(a), Normalize(b))
}

// matchingRunes sums the lengths of matching blocks, found by repeatedly
// taking the longest common substring and recursing on the pieces to either
// side of it.
func matchingRunes(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	aStart, bStart, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	matched := size
	matched += matchingRunes(a[:aStart], b[:bStart])
	matched += matchingRunes(a[aStart+size:], b[bStart+size:])
	return matched
}

func longestCommonBlock(a, b []rune) (aStart, bStart, size int) {
	// lengths[j] holds the length of the common suffix ending at a[i-1], b[j-1]
	// for the current row i.
	lengths := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prevDiag := 0
		for j := 1; j <= len(b); j++ {
			tmp := lengths[j]
			if a[i-1] == b[j-1] {
				lengths[j] = prevDiag + 1
				if lengths[j] > size {
					size = lengths[j]
					aStart = i - size
					bStart = j - size
				}
			} else {
				lengths[j] = 0
			}
			prevDiag = tmp
		}
	}
	return aStart, bStart, size
}
