package utils

// Similarity returns the normalized closeness of two strings in [0,1],
// computed as 1 - levenshtein(a,b)/max(len(a),len(b)). Two empty strings
// are identical by definition. Comparison is rune-based so multi-byte
// descriptions score the same as their character count suggests.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}
	d := levenshtein(ra, rb)
	return 1.0 - float64(d)/float64(maxLen)
}

// levenshtein computes edit distance with a two-row DP over the shorter
// string, keeping space at O(min(len(a), len(b))).
func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j-1]+cost, prev[j]+1, curr[j-1]+1)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
