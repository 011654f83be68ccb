package delaygc

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvokeWithoutHookReturnsFalse(t *testing.T) {
	Set(nil)
	ran := false
	ok := Invoke(func() { ran = true })
	assert.False(t, ok)
	assert.False(t, ran)
}

func TestInvokeWithHookRunsOperation(t *testing.T) {
	t.Cleanup(func() { Set(nil) })

	var ran atomic.Bool
	Set(func(op Operation) { op() })

	ok := Invoke(func() { ran.Store(true) })
	assert.True(t, ok)
	assert.True(t, ran.Load())
}

func TestExecutorHookRunsQueuedOperations(t *testing.T) {
	t.Cleanup(func() { Set(nil) })

	exec := NewExecutorHook(2)
	Set(exec.Hook())

	var count atomic.Int64
	for i := 0; i < 10; i++ {
		Invoke(func() { count.Add(1) })
	}
	exec.Wait()

	assert.EqualValues(t, 10, count.Load())
}
