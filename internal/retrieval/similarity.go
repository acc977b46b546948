package retrieval

// Ratio measures how similar two strings are, in [0, 1]. It is the classic
// matching-blocks ratio: 2*M/T where M is the total number of matched
// characters over all longest matching blocks and T the combined length.
func Ratio(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 1.0
	}
	matched := matchTotal([]byte(a), []byte(b))
	return 2.0 * float64(matched) / float64(len(a)+len(b))
}

// matchTotal sums matched characters by recursively splitting around the
// longest common block.
func matchTotal(a, b []byte) int {
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchTotal(a[:ai], b[:bi])
	total += matchTotal(a[ai+size:], b[bi+size:])
	return total
}

// longestMatch finds the longest common substring of a and b, preferring the
// earliest occurrence in a, then in b.
func longestMatch(a, b []byte) (bestA, bestB, bestSize int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}

	// positions of each byte value in b
	positions := make(map[byte][]int, len(b))
	for j, c := range b {
		positions[c] = append(positions[c], j)
	}

	// lengths[j] = length of the common suffix ending at a[i-1], b[j-1]
	lengths := make(map[int]int)
	for i, c := range a {
		next := make(map[int]int, len(lengths))
		for _, j := range positions[c] {
			k := lengths[j-1] + 1
			next[j] = k
			if k > bestSize {
				bestA = i - k + 1
				bestB = j - k + 1
				bestSize = k
			}
		}
		lengths = next
	}
	return bestA, bestB, bestSize
}
