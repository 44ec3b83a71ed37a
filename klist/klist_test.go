package klist_test

import (
	"testing"

	"github.com/embedded-go/rtoscore/klist"
	"github.com/stretchr/testify/require"
)

type item struct {
	node     klist.Node[item]
	priority int
	name     string
}

func newItem(name string, priority int) *item {
	it := &item{name: name, priority: priority}
	it.node.Init(it)
	return it
}

func less(a, b *item) bool { return a.priority > b.priority }

func names(l *klist.SortedList[item]) []string {
	var out []string
	l.Each(func(it *item) { out = append(out, it.name) })
	return out
}

func TestList_PushFrontPushBackAndRemove(t *testing.T) {
	var l klist.List[item]
	l.Init()
	require.True(t, l.Empty())

	a, b, c := newItem("a", 0), newItem("b", 0), newItem("c", 0)
	l.PushBack(&a.node)
	l.PushBack(&b.node)
	l.PushFront(&c.node)

	require.Equal(t, 3, l.Len())
	require.Equal(t, c, l.Front())

	l.Remove(&b.node)
	require.Equal(t, 2, l.Len())
	require.False(t, b.node.Linked())

	var out []string
	l.Each(func(it *item) { out = append(out, it.name) })
	require.Equal(t, []string{"c", "a"}, out)
}

func TestList_RemoveIsNoOpOnAlreadyDetachedNode(t *testing.T) {
	var l klist.List[item]
	l.Init()
	a := newItem("a", 0)
	l.PushBack(&a.node)
	l.Remove(&a.node)
	require.NotPanics(t, func() { l.Remove(&a.node) })
	require.Equal(t, 0, l.Len())
}

func TestList_PopFrontOnEmptyReturnsNil(t *testing.T) {
	var l klist.List[item]
	l.Init()
	require.Nil(t, l.PopFront())
}

func TestSortedList_InsertOrdersByComparatorDescending(t *testing.T) {
	var l klist.SortedList[item]
	l.Init(less)

	low, mid, high := newItem("low", 1), newItem("mid", 5), newItem("high", 9)
	l.Insert(&low.node, false)
	l.Insert(&high.node, false)
	l.Insert(&mid.node, false)

	require.Equal(t, []string{"high", "mid", "low"}, names(&l))
}

func TestSortedList_InsertIsFifoAmongEqualPriorities(t *testing.T) {
	var l klist.SortedList[item]
	l.Init(less)

	a := newItem("a", 5)
	b := newItem("b", 5)
	c := newItem("c", 5)
	l.Insert(&a.node, false)
	l.Insert(&b.node, false)
	l.Insert(&c.node, false)

	require.Equal(t, []string{"a", "b", "c"}, names(&l))
}

func TestSortedList_InsertBeforePlacesAheadOfEqualPriorityPeers(t *testing.T) {
	var l klist.SortedList[item]
	l.Init(less)

	a := newItem("a", 5)
	b := newItem("b", 5)
	l.Insert(&a.node, false)
	l.Insert(&b.node, true)

	require.Equal(t, []string{"b", "a"}, names(&l))
}

func TestSortedList_RepositionMovesElementToItsNewOrderAndFifoBand(t *testing.T) {
	var l klist.SortedList[item]
	l.Init(less)

	low := newItem("low", 1)
	mid := newItem("mid", 5)
	high := newItem("high", 9)
	l.Insert(&low.node, false)
	l.Insert(&mid.node, false)
	l.Insert(&high.node, false)
	require.Equal(t, []string{"high", "mid", "low"}, names(&l))

	// Raise low's priority above high and reposition: it must move to
	// the front.
	low.priority = 10
	l.Reposition(&low.node)
	require.Equal(t, []string{"low", "high", "mid"}, names(&l))

	// Lower it back below mid: it joins mid's old band, at the tail
	// (Reposition always uses the FIFO-among-equals, before=false
	// placement), behind any peer already there.
	low.priority = 5
	l.Reposition(&low.node)
	require.Equal(t, []string{"high", "mid", "low"}, names(&l))
}

func TestSortedList_FrontOnEmptyReturnsNil(t *testing.T) {
	var l klist.SortedList[item]
	l.Init(less)
	require.Nil(t, l.Front())
}
