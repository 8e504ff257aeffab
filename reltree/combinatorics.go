package reltree

// Subsets enumerates the first limit subsets of n elements in binary
// counting order. Element 0 is the most significant bit, so the first mask
// selects nothing. A negative limit enumerates all 2^n subsets.
func Subsets(n, limit int) [][]bool {
	total := 1 << uint(n)
	if limit >= 0 && limit < total {
		total = limit
	}
	out := make([][]bool, total)
	for i := range out {
		mask := make([]bool, n)
		for j := 0; j < n; j++ {
			mask[j] = i&(1<<uint(n-1-j)) != 0
		}
		out[i] = mask
	}
	return out
}

// Counting returns every length-k sequence over 0..n-1 in lexicographic
// order, repetitions allowed. With n == 0 only the empty sequence exists,
// and only when k == 0.
func Counting(n, k int) [][]int {
	if n == 0 {
		if k == 0 {
			return [][]int{{}}
		}
		return nil
	}
	var out [][]int
	indices := make([]int, k)
	for {
		out = append(out, append([]int(nil), indices...))
		which := k - 1
		for which >= 0 && indices[which] == n-1 {
			which--
		}
		if which < 0 {
			return out
		}
		for after := which + 1; after < k; after++ {
			indices[after] = 0
		}
		indices[which]++
	}
}

// RestrictedGrowth returns the canonical labelings of n new variables:
// sequences starting at 1 where each element is at most one more than the
// maximum before it. 1 1 2 1 is canonical, 2 1 and 1 3 are not.
func RestrictedGrowth(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	type partial struct {
		seq []int
		max int
	}
	level := []partial{{[]int{1}, 1}}
	for k := 1; k < n; k++ {
		var next []partial
		for _, p := range level {
			for i := 1; i <= p.max+1; i++ {
				seq := append(append([]int(nil), p.seq...), i)
				m := p.max
				if i > m {
					m = i
				}
				next = append(next, partial{seq, m})
			}
		}
		level = next
	}
	out := make([][]int, len(level))
	for i, p := range level {
		out[i] = p.seq
	}
	return out
}
