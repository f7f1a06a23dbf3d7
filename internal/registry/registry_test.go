package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
	gormrepository "github.com/e-mzungu/okx-bot/internal/repository/gorm"
)

func openTestRepo(t *testing.T) repository.Repository {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&models.TradingModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormrepository.New(gdb)
}

func seedModel(t *testing.T, repo repository.Repository, modelID string) {
	t.Helper()
	err := repo.UpsertTradingModel(context.Background(), &models.TradingModel{
		ModelID: modelID,
		Name:    modelID,
		Status:  models.ModelStatusApproved,
	})
	if err != nil {
		t.Fatalf("upsert %s: %v", modelID, err)
	}
}

func TestActivateArchivesPrevious(t *testing.T) {
	repo := openTestRepo(t)
	reg := &Registry{Repo: repo}
	ctx := context.Background()

	seedModel(t, repo, "m1")
	seedModel(t, repo, "m2")

	if err := reg.Activate(ctx, "m1"); err != nil {
		t.Fatalf("activate m1: %v", err)
	}
	active, err := reg.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active == nil || active.ModelID != "m1" {
		t.Fatalf("active=%v want=m1", active)
	}

	if err := reg.Activate(ctx, "m2"); err != nil {
		t.Fatalf("activate m2: %v", err)
	}
	active, err = reg.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active == nil || active.ModelID != "m2" {
		t.Fatalf("active=%v want=m2", active)
	}

	prev, err := repo.GetTradingModelByModelID(ctx, "m1")
	if err != nil {
		t.Fatalf("get m1: %v", err)
	}
	if prev.Status != models.ModelStatusArchived {
		t.Fatalf("m1 status=%s want=archived", prev.Status)
	}
}

func TestActivateUnknownModel(t *testing.T) {
	reg := &Registry{Repo: openTestRepo(t)}
	if err := reg.Activate(context.Background(), "missing"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("err=%v want=ErrModelNotFound", err)
	}
}

func TestActivateSameModelTwice(t *testing.T) {
	repo := openTestRepo(t)
	reg := &Registry{Repo: repo}
	ctx := context.Background()

	seedModel(t, repo, "m1")
	if err := reg.Activate(ctx, "m1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := reg.Activate(ctx, "m1"); err != nil {
		t.Fatalf("re-activate: %v", err)
	}
	active, err := reg.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active == nil || active.ModelID != "m1" || active.Status != models.ModelStatusActive {
		t.Fatalf("active=%+v want m1 active", active)
	}
}
