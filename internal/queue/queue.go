package queue

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kikokaraba/srei-sub000/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// PassQueue is an in-memory queue of source-pushed scrape passes. Each pass
// is taken by exactly one worker and handed to every subscribed handler.
type PassQueue struct {
	items    chan *models.PassInput
	done     chan struct{}
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
	logger   *logrus.Logger
	handlers []func(*models.PassInput) error
}

// NewPassQueue creates a new pass queue with the specified buffer size
func NewPassQueue(bufferSize int, logger *logrus.Logger) *PassQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &PassQueue{
		items:    make(chan *models.PassInput, bufferSize),
		done:     make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]func(*models.PassInput) error, 0),
	}
}

// Push adds a pass to the queue without blocking
func (q *PassQueue) Push(pass *models.PassInput) error {
	// Holding the read lock keeps Close from closing items mid-send
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- pass:
		q.logger.WithFields(logrus.Fields{
			"source":   pass.Source,
			"listings": len(pass.Listings),
		}).Debug("Pushed pass to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe adds a handler function that will be called for each pass
func (q *PassQueue) Subscribe(handler func(*models.PassInput) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches workers goroutines draining the queue
func (q *PassQueue) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.process()
	}
}

func (q *PassQueue) process() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case pass, ok := <-q.items:
			if !ok {
				return
			}
			q.processPass(pass)
		}
	}
}

// processPass sends the pass to all subscribed handlers
func (q *PassQueue) processPass(pass *models.PassInput) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(pass); err != nil {
			q.logger.WithError(err).WithField("source", pass.Source).Error("Handler failed to process pass")
		}
	}
}

// Close stops the queue, waits for running handlers and rejects new passes
func (q *PassQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	close(q.items)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Len returns the current number of passes waiting in the queue
func (q *PassQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *PassQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
