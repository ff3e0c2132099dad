package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	mu      sync.Mutex
	calls   map[string]int
	release chan struct{}
	started chan string
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		calls:   make(map[string]int),
		release: make(chan struct{}),
		started: make(chan string, 10),
	}
}

func (r *blockingRunner) RunSource(ctx context.Context, source string) error {
	r.mu.Lock()
	r.calls[source]++
	r.mu.Unlock()
	r.started <- source
	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *blockingRunner) count(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[source]
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRunNowSkipsBusySource(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, []string{"reality"}, "@every 1h", quietLogger())

	done := make(chan bool)
	go func() { done <- s.RunNow("reality") }()
	<-runner.started

	assert.False(t, s.RunNow("reality"))
	close(runner.release)
	assert.True(t, <-done)
	assert.Equal(t, 1, runner.count("reality"))

	// Free again once the first pass is over
	assert.True(t, s.RunNow("reality"))
	assert.Equal(t, 2, runner.count("reality"))
}

func TestStartRunsEverySourceAndStopCancels(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, []string{"reality", "nehnutelnosti"}, "@every 1h", quietLogger())
	require.NoError(t, s.Start())

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case source := <-runner.started:
			seen[source] = true
		case <-time.After(2 * time.Second):
			t.Fatal("startup pass did not run")
		}
	}
	assert.True(t, seen["reality"])
	assert.True(t, seen["nehnutelnosti"])

	// Stop returns once the blocked passes see the cancellation
	s.Stop()
	assert.False(t, s.RunNow("reality"))
}

type failingRunner struct{}

func (failingRunner) RunSource(ctx context.Context, source string) error {
	return errors.New("spider crashed")
}

func TestRunNowReportsRunDespiteFailure(t *testing.T) {
	s := NewScheduler(failingRunner{}, nil, "@every 1h", quietLogger())
	assert.True(t, s.RunNow("reality"))
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := NewScheduler(failingRunner{}, []string{"reality"}, "every hour", quietLogger())
	assert.Error(t, s.Start())
}
