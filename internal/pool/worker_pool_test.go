package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行全部任务", func(t *testing.T) {
		p := NewWorkerPool(4, 100, nil)
		p.Start(context.Background())

		var count int64
		for i := 0; i < 50; i++ {
			assert.True(t, p.TrySubmit(func() { atomic.AddInt64(&count, 1) }))
		}
		p.Stop()
		assert.Equal(t, int64(50), atomic.LoadInt64(&count))
	})

	t.Run("队列满时丢弃", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		block := make(chan struct{})
		started := make(chan struct{})
		p.Start(context.Background())

		assert.True(t, p.TrySubmit(func() {
			close(started)
			<-block
		}))
		<-started
		assert.True(t, p.TrySubmit(func() {}))
		assert.False(t, p.TrySubmit(func() {}))

		close(block)
		p.Stop()
	})

	t.Run("停止后拒绝提交", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		p.Start(context.Background())
		p.Stop()
		assert.False(t, p.TrySubmit(func() {}))
		p.Stop()
	})

	t.Run("任务 panic 不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 10, nil)
		p.Start(context.Background())

		var wg sync.WaitGroup
		wg.Add(1)
		p.TrySubmit(func() { panic("boom") })
		p.TrySubmit(func() { wg.Done() })

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("second task did not run")
		}
		p.Stop()
	})
}
