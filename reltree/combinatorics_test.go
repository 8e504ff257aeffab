package reltree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubsets(t *testing.T) {
	all := Subsets(2, -1)
	assert.Equal(t, [][]bool{{false, false}, {false, true}, {true, false}, {true, true}}, all)

	assert.Len(t, Subsets(3, 5), 5)
	assert.Len(t, Subsets(3, 100), 8)
	assert.Equal(t, [][]bool{{}}, Subsets(0, -1))
}

func TestCounting(t *testing.T) {
	assert.Equal(t, [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, Counting(2, 2))
	assert.Equal(t, [][]int{{}}, Counting(3, 0))
	assert.Equal(t, [][]int{{}}, Counting(0, 0))
	assert.Nil(t, Counting(0, 2))
	assert.Len(t, Counting(3, 3), 27)
}

func TestRestrictedGrowth(t *testing.T) {
	assert.Equal(t, [][]int{{}}, RestrictedGrowth(0))
	assert.Equal(t, [][]int{{1}}, RestrictedGrowth(1))
	assert.Equal(t, [][]int{
		{1, 1, 1}, {1, 1, 2}, {1, 2, 1}, {1, 2, 2}, {1, 2, 3},
	}, RestrictedGrowth(3))
	// Bell numbers
	assert.Len(t, RestrictedGrowth(4), 15)
	assert.Len(t, RestrictedGrowth(5), 52)
}
