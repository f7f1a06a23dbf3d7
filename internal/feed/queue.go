package feed

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/e-mzungu/okx-bot/internal/models"
)

// Queue is the bounded hand-off between signal ingest and the consumer
// workers. Enqueue never blocks the producer: when the buffer is full the
// signal is dropped (it stays pending in the DB and the sweeper expires it).
type Queue struct {
	ch      chan models.Signal
	logger  *zap.Logger
	dropped uint64
}

func NewQueue(size int, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 1024
	}
	return &Queue{ch: make(chan models.Signal, size), logger: logger}
}

func (q *Queue) Enqueue(sig models.Signal) bool {
	select {
	case q.ch <- sig:
		return true
	default:
		atomic.AddUint64(&q.dropped, 1)
		if q.logger != nil {
			q.logger.Warn("signal queue full, dropping",
				zap.String("signal_id", sig.SignalID),
				zap.Uint64("dropped_total", atomic.LoadUint64(&q.dropped)),
			)
		}
		return false
	}
}

func (q *Queue) Dequeue(ctx context.Context) (models.Signal, bool) {
	select {
	case <-ctx.Done():
		return models.Signal{}, false
	case sig, ok := <-q.ch:
		return sig, ok
	}
}

func (q *Queue) Dropped() uint64 {
	return atomic.LoadUint64(&q.dropped)
}
