package feed

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/e-mzungu/okx-bot/internal/config"
	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
)

// Service is the producer boundary: it persists incoming signals with
// at-least-once dedup on signal_id and hands fresh ones to the queue.
type Service struct {
	Cfg    config.FeedConfig
	Repo   repository.Repository
	Queue  *Queue
	Logger *zap.Logger
}

// Ingest stores and enqueues one signal. It reports false when the signal
// id was already seen; redelivery is expected from the feed and harmless.
func (s *Service) Ingest(ctx context.Context, sig *models.Signal) (bool, error) {
	if s == nil || s.Repo == nil || sig == nil {
		return false, nil
	}
	if strings.TrimSpace(sig.SignalID) == "" {
		sig.SignalID = uuid.NewString()
	}
	if sig.Status == "" {
		sig.Status = models.SignalStatusPending
	}
	if sig.ExpiresAt == nil {
		ttl := s.Cfg.SignalTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		expiry := time.Now().UTC().Add(ttl)
		sig.ExpiresAt = &expiry
	}

	inserted, err := s.Repo.InsertSignalIgnoreDup(ctx, sig)
	if err != nil {
		return false, err
	}
	if !inserted {
		if s.Logger != nil {
			s.Logger.Debug("duplicate signal ignored", zap.String("signal_id", sig.SignalID))
		}
		return false, nil
	}
	if s.Queue != nil {
		s.Queue.Enqueue(*sig)
	}
	return true, nil
}

// Sweeper expires pending signals past their deadline, independent of the
// gate's synchronous check, so stale entries can't linger forever.
type Sweeper struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (s *Sweeper) Sweep(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	n, err := s.Repo.ExpireDueSignals(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if n > 0 && s.Logger != nil {
		s.Logger.Info("expired stale signals", zap.Int64("count", n))
	}
	return nil
}
