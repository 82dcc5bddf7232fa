package container

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

type record struct {
	Key   uint32
	Value int32
}

func newTestArray(capacity int) (*FixedArray[record], *int32) {
	buf := make([]record, capacity)
	count := int32(0)
	return NewFixedArray[record](unsafe.Pointer(&buf[0]), capacity, &count), &count
}

func TestPushBackAndLen(t *testing.T) {
	arr, _ := newTestArray(4)
	require.Equal(t, 0, arr.Len())

	idx, ok := arr.PushBack(record{Key: 1, Value: 10})
	require.True(t, ok)
	require.Equal(t, 0, idx)
	require.Equal(t, 1, arr.Len())
	require.Equal(t, uint32(1), arr.At(0).Key)
}

func TestPushBackRejectsOverCapacity(t *testing.T) {
	arr, _ := newTestArray(2)
	_, ok1 := arr.PushBack(record{Key: 1})
	_, ok2 := arr.PushBack(record{Key: 2})
	_, ok3 := arr.PushBack(record{Key: 3})
	require.True(t, ok1)
	require.True(t, ok2)
	require.False(t, ok3)
	require.Equal(t, 2, arr.Len())
}

func TestRemoveAtShiftsElements(t *testing.T) {
	arr, _ := newTestArray(4)
	arr.PushBack(record{Key: 1})
	arr.PushBack(record{Key: 2})
	arr.PushBack(record{Key: 3})

	arr.RemoveAt(1)

	require.Equal(t, 2, arr.Len())
	require.Equal(t, uint32(1), arr.At(0).Key)
	require.Equal(t, uint32(3), arr.At(1).Key)
}

func TestInsertSortedMaintainsOrder(t *testing.T) {
	arr, _ := newTestArray(8)
	keyOf := func(r *record) uint32 { return r.Key }

	InsertSorted(arr, keyOf, record{Key: 30})
	InsertSorted(arr, keyOf, record{Key: 10})
	InsertSorted(arr, keyOf, record{Key: 20})

	var keys []uint32
	arr.Each(func(i int, v *record) bool {
		keys = append(keys, v.Key)
		return true
	})
	require.Equal(t, []uint32{10, 20, 30}, keys)
}

func TestInsertSortedAppendsTiesAfterExisting(t *testing.T) {
	arr, _ := newTestArray(8)
	keyOf := func(r *record) uint32 { return r.Key }

	InsertSorted(arr, keyOf, record{Key: 5, Value: 1})
	InsertSorted(arr, keyOf, record{Key: 5, Value: 2})
	InsertSorted(arr, keyOf, record{Key: 5, Value: 3})

	require.Equal(t, int32(1), arr.At(0).Value)
	require.Equal(t, int32(2), arr.At(1).Value)
	require.Equal(t, int32(3), arr.At(2).Value)
}

func TestSearchFirstFindsMatch(t *testing.T) {
	arr, _ := newTestArray(8)
	keyOf := func(r *record) uint32 { return r.Key }
	InsertSorted(arr, keyOf, record{Key: 10})
	InsertSorted(arr, keyOf, record{Key: 20})
	InsertSorted(arr, keyOf, record{Key: 30})

	idx, found := SearchFirst(arr, keyOf, uint32(20))
	require.True(t, found)
	require.Equal(t, 1, idx)

	_, found = SearchFirst(arr, keyOf, uint32(25))
	require.False(t, found)
}

func TestSortInPlace(t *testing.T) {
	arr, _ := newTestArray(4)
	arr.PushBack(record{Key: 3})
	arr.PushBack(record{Key: 1})
	arr.PushBack(record{Key: 2})

	arr.SortInPlace(func(a, b *record) bool { return a.Key < b.Key })

	require.Equal(t, uint32(1), arr.At(0).Key)
	require.Equal(t, uint32(2), arr.At(1).Key)
	require.Equal(t, uint32(3), arr.At(2).Key)
}
