package registry

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishLookupUnpublish(t *testing.T) {
	r := &Registry{}
	buf := make([]byte, 32)
	base := unsafe.Pointer(&buf[0])

	r.Publish(base, 32, "owner-1")

	ref, ok := r.Lookup(unsafe.Pointer(&buf[8]), 4)
	require.True(t, ok)
	assert.Equal(t, "owner-1", ref)

	r.Unpublish(base, 32)
	_, ok = r.Lookup(base, 1)
	assert.False(t, ok)
}

func TestLookupMissOutsideAnyRange(t *testing.T) {
	r := &Registry{}
	buf := make([]byte, 16)
	r.Publish(unsafe.Pointer(&buf[0]), 16, "owner")

	other := make([]byte, 16)
	_, ok := r.Lookup(unsafe.Pointer(&other[0]), 1)
	assert.False(t, ok)
}

func TestLookupStrictWrapsMiss(t *testing.T) {
	r := &Registry{}
	other := make([]byte, 1)
	_, err := r.LookupStrict(unsafe.Pointer(&other[0]), 1)
	assert.ErrorIs(t, err, ErrNoCoverage)
}

func TestMultipleDisjointRanges(t *testing.T) {
	r := &Registry{}
	a := make([]byte, 16)
	b := make([]byte, 16)
	r.Publish(unsafe.Pointer(&a[0]), 16, "a")
	r.Publish(unsafe.Pointer(&b[0]), 16, "b")

	refA, ok := r.Lookup(unsafe.Pointer(&a[4]), 1)
	require.True(t, ok)
	assert.Equal(t, "a", refA)

	refB, ok := r.Lookup(unsafe.Pointer(&b[4]), 1)
	require.True(t, ok)
	assert.Equal(t, "b", refB)
}
