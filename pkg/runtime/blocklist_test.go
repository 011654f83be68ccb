package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(l *blockList) []*Block {
	var out []*Block
	l.forEach(func(b *Block) { out = append(out, b) })
	return out
}

func TestBlockListPushBackOrder(t *testing.T) {
	var l blockList
	l.init()
	require.True(t, l.empty())

	a, b, c := &Block{}, &Block{}, &Block{}
	l.pushBack(a)
	l.pushBack(b)
	l.pushBack(c)

	assert.Equal(t, []*Block{a, b, c}, collect(&l))
	assert.False(t, l.empty())
}

func TestBlockUnlink(t *testing.T) {
	var l blockList
	l.init()
	a, b, c := &Block{}, &Block{}, &Block{}
	l.pushBack(a)
	l.pushBack(b)
	l.pushBack(c)

	b.unlink()
	assert.Equal(t, []*Block{a, c}, collect(&l))

	// unlinking again is a no-op
	b.unlink()
	assert.Equal(t, []*Block{a, c}, collect(&l))
}

func TestMoveBeforeRelocatesWithinSameList(t *testing.T) {
	var l blockList
	l.init()
	a, b, c := &Block{}, &Block{}, &Block{}
	l.pushBack(a)
	l.pushBack(b)
	l.pushBack(c)

	moveBefore(c, b, &l)
	assert.Equal(t, []*Block{a, c, b}, collect(&l))
}

func TestSpliceAllMovesEverythingAndEmptiesSource(t *testing.T) {
	var src, dst blockList
	src.init()
	dst.init()

	a, b := &Block{}, &Block{}
	src.pushBack(a)
	src.pushBack(b)

	x := &Block{}
	dst.pushBack(x)

	spliceAll(&src, &dst)
	assert.True(t, src.empty())
	assert.Equal(t, []*Block{x, a, b}, collect(&dst))
}

func TestSpliceAllFromEmptySourceIsNoop(t *testing.T) {
	var src, dst blockList
	src.init()
	dst.init()
	x := &Block{}
	dst.pushBack(x)

	spliceAll(&src, &dst)
	assert.Equal(t, []*Block{x}, collect(&dst))
}

func TestSpliceFromMovesOnlyTheTail(t *testing.T) {
	var src, dst blockList
	src.init()
	dst.init()

	a, b, c := &Block{}, &Block{}, &Block{}
	src.pushBack(a)
	src.pushBack(b)
	src.pushBack(c)

	spliceFrom(b, &src, &dst)

	assert.Equal(t, []*Block{a}, collect(&src))
	assert.Equal(t, []*Block{b, c}, collect(&dst))
}

func TestSpliceFromSentinelIsNoop(t *testing.T) {
	var src, dst blockList
	src.init()
	dst.init()
	a := &Block{}
	src.pushBack(a)

	spliceFrom(src.head, &src, &dst)
	assert.Equal(t, []*Block{a}, collect(&src))
	assert.True(t, dst.empty())
}
