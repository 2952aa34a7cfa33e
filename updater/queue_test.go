package updater

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueRunsInOrder(t *testing.T) {
	q := newQueue()
	quit := make(chan struct{})

	var (
		got []int
		wg  sync.WaitGroup
	)

	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		q.push(func() {
			got = append(got, i)

			// pushing from a running item never blocks
			if i%10 == 0 {
				q.push(func() {})
			}

			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() {
		q.run(quit)
		close(done)
	}()

	wg.Wait()
	close(quit)
	<-done

	for i := range got {
		assert.Equal(t, i, got[i])
	}
	assert.Len(t, got, 100)
}
