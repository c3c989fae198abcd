package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildsOncePerKey(t *testing.T) {
	builds := 0
	r := New(func(key string) (string, error) {
		builds++
		return "res-" + key, nil
	}, nil)

	h1, err := r.Acquire("room-1")
	require.NoError(t, err)
	h2, err := r.Acquire("room-1")
	require.NoError(t, err)

	assert.Equal(t, 1, builds)
	assert.Equal(t, "res-room-1", h1.Value)
	assert.Same(t, h1.registry, h2.registry)
	assert.Equal(t, 1, r.Len())
}

func TestTeardownOnLastRelease(t *testing.T) {
	var tornDown []string
	r := New(
		func(key string) (int, error) { return 42, nil },
		func(key string, _ int) { tornDown = append(tornDown, key) },
	)

	h1, _ := r.Acquire("room-1")
	h2, _ := r.Acquire("room-1")

	h1.Release()
	assert.Empty(t, tornDown, "resource still referenced")

	h2.Release()
	assert.Equal(t, []string{"room-1"}, tornDown)
	assert.Equal(t, 0, r.Len())
}

func TestReleaseIsIdempotent(t *testing.T) {
	teardowns := 0
	r := New(
		func(string) (int, error) { return 1, nil },
		func(string, int) { teardowns++ },
	)

	h1, _ := r.Acquire("room-1")
	h2, _ := r.Acquire("room-1")

	h1.Release()
	h1.Release() // double release must not steal h2's reference
	assert.Equal(t, 0, teardowns)

	h2.Release()
	assert.Equal(t, 1, teardowns)
}

func TestReacquireAfterTeardownRebuilds(t *testing.T) {
	builds := 0
	r := New(func(string) (int, error) {
		builds++
		return builds, nil
	}, nil)

	h, _ := r.Acquire("room-1")
	h.Release()

	h2, _ := r.Acquire("room-1")
	assert.Equal(t, 2, builds)
	assert.Equal(t, 2, h2.Value)
}

func TestBuildErrorPropagates(t *testing.T) {
	r := New(func(string) (int, error) {
		return 0, errors.New("no capacity")
	}, nil)

	_, err := r.Acquire("room-1")
	require.Error(t, err)
	assert.Equal(t, 0, r.Len(), "failed build leaves no entry")
}

func TestPeekDoesNotTakeReference(t *testing.T) {
	r := New(func(string) (int, error) { return 7, nil }, nil)

	_, ok := r.Peek("room-1")
	assert.False(t, ok)

	h, _ := r.Acquire("room-1")
	v, ok := r.Peek("room-1")
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	h.Release()
	_, ok = r.Peek("room-1")
	assert.False(t, ok)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	r := New(func(string) (int, error) { return 1, nil }, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Acquire("room-1")
			if assert.NoError(t, err) {
				h.Release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}
