package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

var mobileSeq atomic.Int64

func seedUser(t *testing.T, db *gorm.DB) *domain.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), db, fmt.Sprintf("+1444%07d", mobileSeq.Add(1)))
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// repoShim forwards to the repo package and counts list reads.
type repoShim struct {
	lists atomic.Int64
}

func (*repoShim) CreateChatroom(ctx context.Context, db *gorm.DB, userID uint, name string) (*domain.Chatroom, error) {
	return repo.CreateChatroom(ctx, db, userID, name)
}

func (r *repoShim) ListChatrooms(ctx context.Context, db *gorm.DB, userID uint) ([]domain.Chatroom, error) {
	r.lists.Add(1)
	return repo.ListChatrooms(ctx, db, userID)
}

func (*repoShim) GetChatroomWithMessages(ctx context.Context, db *gorm.DB, id, userID uint) (*domain.Chatroom, error) {
	return repo.GetChatroomWithMessages(ctx, db, id, userID)
}
