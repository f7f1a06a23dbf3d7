package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
)

var ErrModelNotFound = errors.New("registry: model not found")

const activeCacheTTL = 5 * time.Second

// Registry answers "which model's signals are live right now". The active
// model is the newest row with status active; lookups are cached briefly
// because the gate asks on every signal.
type Registry struct {
	Repo   repository.Repository
	Logger *zap.Logger

	mu       sync.Mutex
	cached   *models.TradingModel
	cachedAt time.Time
}

func (r *Registry) Active(ctx context.Context) (*models.TradingModel, error) {
	if r == nil || r.Repo == nil {
		return nil, nil
	}
	r.mu.Lock()
	if r.cached != nil && time.Since(r.cachedAt) < activeCacheTTL {
		item := r.cached
		r.mu.Unlock()
		return item, nil
	}
	r.mu.Unlock()

	item, err := r.Repo.GetActiveTradingModel(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cached = item
	r.cachedAt = time.Now()
	r.mu.Unlock()
	return item, nil
}

// Activate marks a model active. The previous active model is archived so
// the "newest active" lookup stays unambiguous.
func (r *Registry) Activate(ctx context.Context, modelID string) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	modelID = strings.TrimSpace(modelID)
	item, err := r.Repo.GetTradingModelByModelID(ctx, modelID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrModelNotFound
	}
	prev, err := r.Repo.GetActiveTradingModel(ctx)
	if err != nil {
		return err
	}
	if prev != nil && prev.ModelID != modelID {
		if err := r.Repo.SetTradingModelStatus(ctx, prev.ModelID, models.ModelStatusArchived, nil); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	if err := r.Repo.SetTradingModelStatus(ctx, modelID, models.ModelStatusActive, &now); err != nil {
		return err
	}

	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()

	if r.Logger != nil {
		r.Logger.Info("model activated", zap.String("model_id", modelID))
	}
	return nil
}

func (r *Registry) List(ctx context.Context, params repository.ListModelsParams) ([]models.TradingModel, error) {
	if r == nil || r.Repo == nil {
		return nil, nil
	}
	return r.Repo.ListTradingModels(ctx, params)
}
