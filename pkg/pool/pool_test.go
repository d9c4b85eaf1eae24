package pool

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type scratch struct {
	items []int
}

func TestPoolResetsOnPut(t *testing.T) {
	p := New(
		func() *scratch { return &scratch{items: make([]int, 0, 8)} },
		func(s *scratch) { s.items = s.items[:0] },
	)

	s := p.Get()
	s.items = append(s.items, 1, 2, 3)
	_, inUse := p.Stats()
	assert.Equal(t, int64(1), inUse)

	p.Put(s)
	allocated, inUse := p.Stats()
	assert.Equal(t, int64(1), allocated)
	assert.Zero(t, inUse)
	assert.Empty(t, s.items)
}

func TestBuffersComeBackEmpty(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("payload")
	PutBuffer(buf)

	again := GetBuffer()
	defer PutBuffer(again)
	assert.Zero(t, again.Len())
}

func TestOversizedBuffersAreDropped(t *testing.T) {
	_, before := BufferStats()

	buf := GetBuffer()
	buf.Grow(maxPooledBuffer + 1)
	PutBuffer(buf)
	PutBuffer(nil)

	_, after := BufferStats()
	assert.Equal(t, before, after)
}

func TestConcurrentBufferUse(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf := GetBuffer()
				buf.Write(bytes.Repeat([]byte{byte(i)}, 32))
				assert.Equal(t, 32, buf.Len())
				PutBuffer(buf)
			}
		}(i)
	}
	wg.Wait()
}
