package testutil

import (
	"testing"

	"github.com/kasuganosora/roleplay/server/cache"
	"github.com/kasuganosora/roleplay/server/config"
	dbadapter "github.com/kasuganosora/roleplay/server/db"
	"github.com/kasuganosora/roleplay/server/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates an in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode: dbadapter.ModeMemory,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := config.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// CreateCharacter inserts an account and a character owned by it.
func CreateCharacter(t *testing.T, db *gorm.DB, username, name string, money int64) (*model.Account, *model.Character) {
	t.Helper()
	acc := &model.Account{Username: username, PasswordHash: "x", Status: 1}
	require.NoError(t, db.Create(acc).Error)
	char := &model.Character{AccountID: acc.ID, Name: name, Money: money}
	require.NoError(t, db.Create(char).Error)
	return acc, char
}
