package idgen

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceIsDeterministic(t *testing.T) {
	seq := NewSequence("msg")
	assert.Equal(t, "msg-1", seq.NewID())
	assert.Equal(t, "msg-2", seq.NewID())
}

func TestSequenceConcurrentUnique(t *testing.T) {
	seq := NewSequence("id")
	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := seq.NewID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestUUIDParses(t *testing.T) {
	_, err := uuid.Parse(UUID{}.NewID())
	require.NoError(t, err)
}
