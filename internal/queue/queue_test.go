package queue

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikokaraba/srei-sub000/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNewPassQueue(t *testing.T) {
	q := NewPassQueue(10, quietLogger())
	assert.NotNil(t, q)
	assert.Equal(t, 10, q.maxSize)
	assert.False(t, q.IsClosed())
}

func TestPassQueue_Push(t *testing.T) {
	q := NewPassQueue(2, quietLogger())

	pass := &models.PassInput{Source: "nehnutelnosti"}
	assert.NoError(t, q.Push(pass))
	assert.Equal(t, 1, q.Len())

	assert.NoError(t, q.Push(pass))
	assert.Equal(t, ErrQueueFull, q.Push(pass))

	require.NoError(t, q.Close())
	assert.Equal(t, ErrQueueClosed, q.Push(pass))
}

func TestPassQueue_EachPassHandledOnce(t *testing.T) {
	q := NewPassQueue(10, quietLogger())

	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := map[string]int{}
	q.Subscribe(func(pass *models.PassInput) error {
		mu.Lock()
		seen[pass.Source]++
		mu.Unlock()
		wg.Done()
		return nil
	})
	q.Start(3)

	sources := []string{"a", "b", "c", "d", "e"}
	wg.Add(len(sources))
	for _, s := range sources {
		require.NoError(t, q.Push(&models.PassInput{Source: s}))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("passes were not processed")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range sources {
		assert.Equal(t, 1, seen[s], s)
	}
	require.NoError(t, q.Close())
}

func TestPassQueue_AllHandlersCalled(t *testing.T) {
	q := NewPassQueue(10, quietLogger())

	var wg sync.WaitGroup
	var mu sync.Mutex
	calls := 0
	for i := 0; i < 3; i++ {
		wg.Add(1)
		q.Subscribe(func(*models.PassInput) error {
			mu.Lock()
			calls++
			mu.Unlock()
			wg.Done()
			return nil
		})
	}
	q.Start(1)

	require.NoError(t, q.Push(&models.PassInput{Source: "a"}))
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
	require.NoError(t, q.Close())
}

func TestPassQueue_Close(t *testing.T) {
	q := NewPassQueue(10, quietLogger())
	q.Start(2)

	assert.NoError(t, q.Close())
	assert.True(t, q.IsClosed())
	// Second close is a no-op
	assert.NoError(t, q.Close())
}
