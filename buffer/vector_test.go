package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendGrowsWithoutTruncation(t *testing.T) {
	v := New[byte](4)
	v.Append([]byte("hello world")...)

	assert.Equal(t, "hello world", string(v.Slice()))
	assert.GreaterOrEqual(t, v.Cap(), 11)
}

func TestGrowthAtLeastDoubles(t *testing.T) {
	v := New[int](8)
	for i := range 8 {
		v.Push(i)
	}
	require.Equal(t, 8, v.Cap())

	v.Push(8)
	assert.Equal(t, 16, v.Cap())
	assert.Equal(t, 9, v.Len())
}

func TestReserveAtLeast(t *testing.T) {
	tests := []struct {
		name    string
		initial int
		reserve int
		wantCap int
	}{
		{"no-op when capacity suffices", 32, 16, 32},
		{"exact fit is a no-op", 32, 32, 32},
		{"doubling covers request", 32, 40, 64},
		{"request beyond doubling", 32, 100, 100},
		{"from zero", 0, 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New[byte](tt.initial)
			v.ReserveAtLeast(tt.reserve)
			assert.Equal(t, tt.wantCap, v.Cap())
		})
	}
}

func TestReserveKeepsContents(t *testing.T) {
	v := New[byte](2)
	v.Append('a', 'b')
	v.ReserveAtLeast(64)
	assert.Equal(t, "ab", string(v.Slice()))
}

func TestRemoveAtSwapsWithLast(t *testing.T) {
	v := New[string](4)
	v.Append("a", "b", "c", "d")

	v.RemoveAt(1)
	assert.Equal(t, []string{"a", "d", "c"}, v.Slice())

	v.RemoveAt(2)
	assert.Equal(t, []string{"a", "d"}, v.Slice())
}

func TestStableRemoveAtPreservesOrder(t *testing.T) {
	v := New[string](4)
	v.Append("a", "b", "c", "d")

	v.StableRemoveAt(0)
	assert.Equal(t, []string{"b", "c", "d"}, v.Slice())

	v.StableRemoveAt(1)
	assert.Equal(t, []string{"b", "d"}, v.Slice())
}

func TestConsume(t *testing.T) {
	v := New[byte](8)
	v.Append([]byte("abcdef")...)

	v.Consume(2)
	assert.Equal(t, "cdef", string(v.Slice()))

	v.Consume(10)
	assert.Equal(t, 0, v.Len())
}

func TestClearKeepsStorage(t *testing.T) {
	v := New[byte](16)
	v.Append([]byte("data")...)
	v.Clear()

	assert.Equal(t, 0, v.Len())
	assert.Equal(t, 16, v.Cap())
}

func TestSpareAndExtend(t *testing.T) {
	v := New[byte](8)
	v.Append('x')

	spare := v.Spare()
	require.Len(t, spare, 7)
	n := copy(spare, "yz")
	v.Extend(n)

	assert.Equal(t, "xyz", string(v.Slice()))
}

func TestCloseReleasesStorage(t *testing.T) {
	v := New[int](8)
	v.Push(1)
	v.Close()

	assert.Equal(t, 0, v.Cap())
	v.Push(2)
	assert.Equal(t, []int{2}, v.Slice())
}
