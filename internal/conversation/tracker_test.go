package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCreatesOnce(t *testing.T) {
	tr := NewTracker()
	a := tr.Resolve("voice:123")
	b := tr.Resolve("voice:123")
	require.Same(t, a, b)
	assert.Equal(t, 1, tr.Len())
}

func TestAppendOrderPreserved(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 50; i++ {
		tr.Append("text:42", Exchange{Input: fmt.Sprintf("in-%d", i), Reply: fmt.Sprintf("out-%d", i)})
	}
	hist := tr.History("text:42")
	require.Len(t, hist, 50)
	for i, e := range hist {
		assert.Equal(t, fmt.Sprintf("in-%d", i), e.Input)
		assert.Equal(t, fmt.Sprintf("out-%d", i), e.Reply)
	}
}

func TestHistoryIsACopy(t *testing.T) {
	tr := NewTracker()
	tr.Append("k", Exchange{Input: "a", Reply: "b"})
	hist := tr.History("k")
	hist[0].Input = "mutated"
	assert.Equal(t, "a", tr.History("k")[0].Input)
}

func TestConcurrentAppendsDistinctThreads(t *testing.T) {
	tr := NewTracker()
	const perThread = 200
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			key := fmt.Sprintf("thread-%d", g)
			for i := 0; i < perThread; i++ {
				tr.Append(key, Exchange{Input: fmt.Sprintf("%d", i)})
			}
		}(g)
	}
	wg.Wait()

	for g := 0; g < 8; g++ {
		key := fmt.Sprintf("thread-%d", g)
		hist := tr.History(key)
		require.Len(t, hist, perThread)
		for i, e := range hist {
			require.Equal(t, fmt.Sprintf("%d", i), e.Input)
		}
	}
}

func TestDropRemovesThread(t *testing.T) {
	tr := NewTracker()
	tr.Append("voice:gone", Exchange{Input: "x"})
	tr.Drop("voice:gone")
	assert.Nil(t, tr.History("voice:gone"))
	assert.Equal(t, 0, tr.Len())
}
