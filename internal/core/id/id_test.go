package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedUnique(t *testing.T) {
	a := MustParse("00000000-0000-0000-0000-000000000001")
	b := MustParse("00000000-0000-0000-0000-000000000002")
	c := MustParse("ffffffff-0000-0000-0000-000000000000")

	got := SortedUnique([]ID{c, a, b, a, c})

	assert.Equal(t, []ID{a, b, c}, got)
}

func TestNew_IsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		assert.Equal(t, -1, Compare(prev, next))
		prev = next
	}
}
