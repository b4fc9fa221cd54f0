// Package testutil builds throwaway stores for tests: an in-memory SQLite
// Ledger Store and a miniredis-backed ephemeral store.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/krshsl/interview-engine/cache"
	"github.com/krshsl/interview-engine/models"
	"github.com/krshsl/interview-engine/repository"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewRepository returns a migrated repository backed by a private in-memory
// database. The pool holds a single connection so transactions serialize the
// way row locks would on postgres.
func NewRepository(t *testing.T) (*repository.GORMRepository, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := repository.NewGORMRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return repo, db
}

// NewStore returns a Store on a fresh miniredis instance.
func NewStore(t *testing.T) (*cache.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.NewRedisStore(client), mr
}

// CreateUser inserts a user holding the given balance. The balance is
// recorded as an adjustment so the ledger sums to users.credits.
func CreateUser(t *testing.T, db *gorm.DB, credits int) *models.User {
	t.Helper()

	user := &models.User{
		Email:    uuid.New().String()[:8] + "@example.com",
		FullName: "Test User",
		Role:     "user",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if credits > 0 {
		if err := db.Model(user).UpdateColumn("credits", credits).Error; err != nil {
			t.Fatalf("Failed to set credits: %v", err)
		}
		txn := &models.CreditTransaction{
			UserID:       user.ID,
			Amount:       credits,
			Type:         models.TransactionAdjustment,
			Description:  "test balance",
			BalanceAfter: credits,
		}
		if err := db.Create(txn).Error; err != nil {
			t.Fatalf("Failed to record balance: %v", err)
		}
		user.Credits = credits
	}
	return user
}

// Credits reads the stored balance directly.
func Credits(t *testing.T, db *gorm.DB, userID string) int {
	t.Helper()
	var user models.User
	if err := db.WithContext(context.Background()).First(&user, "id = ?", userID).Error; err != nil {
		t.Fatalf("Failed to read user: %v", err)
	}
	return user.Credits
}

// CountTransactions counts ledger rows matching the filters.
func CountTransactions(t *testing.T, db *gorm.DB, userID string, txType models.TransactionType) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.CreditTransaction{}).Where("user_id = ? AND type = ?", userID, txType).Count(&n).Error; err != nil {
		t.Fatalf("Failed to count transactions: %v", err)
	}
	return n
}

// LedgerSum returns the sum of a user's transaction amounts.
func LedgerSum(t *testing.T, db *gorm.DB, userID string) int {
	t.Helper()
	var sum int
	if err := db.Model(&models.CreditTransaction{}).Where("user_id = ?", userID).Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error; err != nil {
		t.Fatalf("Failed to sum ledger: %v", err)
	}
	return sum
}
