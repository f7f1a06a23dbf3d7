package feed

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/e-mzungu/okx-bot/internal/execution"
	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
	"github.com/e-mzungu/okx-bot/internal/risk"
	"github.com/e-mzungu/okx-bot/internal/state"
)

// Consumer drains the queue with N workers, each owning the partition
// hash(instrument) % N. Signals for one instrument are processed in
// arrival order while distinct instruments run concurrently.
type Consumer struct {
	Workers  int
	Queue    *Queue
	Repo     repository.Repository
	Gate     *risk.Gate
	Engine   *execution.Engine
	Settings *state.SettingsService
	Logger   *zap.Logger
}

func (c *Consumer) Run(ctx context.Context) error {
	if c == nil || c.Queue == nil {
		return nil
	}
	workers := c.Workers
	if workers <= 0 {
		workers = 4
	}

	partitions := make([]chan models.Signal, workers)
	var wg sync.WaitGroup
	for i := range partitions {
		partitions[i] = make(chan models.Signal, 32)
		wg.Add(1)
		go func(ch <-chan models.Signal) {
			defer wg.Done()
			for sig := range ch {
				if err := c.Process(ctx, sig); err != nil && c.Logger != nil {
					c.Logger.Warn("signal processing failed",
						zap.String("signal_id", sig.SignalID), zap.Error(err))
				}
			}
		}(partitions[i])
	}

	for {
		sig, ok := c.Queue.Dequeue(ctx)
		if !ok {
			break
		}
		partitions[Partition(sig.Instrument, workers)] <- sig
	}
	for _, ch := range partitions {
		close(ch)
	}
	wg.Wait()
	return ctx.Err()
}

// Process takes one signal through the gate and, if admitted, the engine.
// It rereads the row first so a duplicate delivery of an already-handled
// signal is a no-op.
func (c *Consumer) Process(ctx context.Context, queued models.Signal) error {
	// A paused executor leaves the signal pending; the sweeper expires it
	// when the pause outlasts the expiry.
	if c.Settings != nil && !c.Settings.IsEnabled(ctx, state.SettingExecutorEnabled, true) {
		return nil
	}
	sig, err := c.Repo.GetSignalBySignalID(ctx, queued.SignalID)
	if err != nil {
		return err
	}
	if sig == nil || sig.Status != models.SignalStatusPending {
		return nil
	}
	// HOLD carries no action; the sweeper expires it.
	if sig.Direction == models.DirectionHold {
		return nil
	}

	dec, err := c.Gate.Evaluate(ctx, sig)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if !dec.Allowed {
		status := models.SignalStatusRejected
		if dec.Reason == risk.ReasonExpired {
			status = models.SignalStatusExpired
		}
		return c.Repo.UpdateSignalStatus(ctx, sig.SignalID, status, dec.Reason, &now)
	}

	_, err = c.Engine.Execute(ctx, sig, dec.Quantity)
	if errors.Is(err, execution.ErrUnknownMode) {
		return c.Repo.UpdateSignalStatus(ctx, sig.SignalID, models.SignalStatusRejected, err.Error(), &now)
	}
	return err
}

// Partition maps an instrument onto a worker index.
func Partition(instrument string, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(instrument))
	return int(h.Sum32() % uint32(workers))
}
