package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-service/internal/domain/parking"
)

func key(spot int) parking.SpotKey {
	return parking.SpotKey{CameraID: 1, SpotNumber: spot}
}

func TestLastSeenEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLastSeen(2)
	c.Put(key(1), Entry{Hash: 1})
	c.Put(key(2), Entry{Hash: 2})

	_, ok := c.Get(key(1))
	require.True(t, ok)

	c.Put(key(3), Entry{Hash: 3})

	_, ok = c.Get(key(2))
	assert.False(t, ok, "spot 2 was least recently used")
	_, ok = c.Get(key(1))
	assert.True(t, ok)
	_, ok = c.Get(key(3))
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLastSeenOverwrite(t *testing.T) {
	c := NewLastSeen(4)
	c.Put(key(1), Entry{Hash: 1, Fingerprint: "a"})
	c.Put(key(1), Entry{Hash: 9, Fingerprint: "b"})

	e, ok := c.Get(key(1))
	require.True(t, ok)
	assert.Equal(t, uint64(9), e.Hash)
	assert.Equal(t, "b", e.Fingerprint)
	assert.Equal(t, 1, c.Len())

	c.Delete(key(1))
	_, ok = c.Get(key(1))
	assert.False(t, ok)
}

func TestLastSeenConcurrentWriters(t *testing.T) {
	c := NewLastSeen(8)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Put(key(i%4), Entry{Hash: uint64(i)})
			c.Get(key(i % 4))
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, c.Len())
}
