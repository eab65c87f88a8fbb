// Package postgres stores the ledger and the request tracker in PostgreSQL
// through gorm.
package postgres

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	maxRetries = 5
	retryDelay = 5 * time.Second
)

// Open connects to dsn, retrying while the database comes up, and migrates
// the schema.
func Open(dsn string, log logrus.FieldLogger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(pgdriver.Open(dsn), cfg)
		if err == nil {
			break
		}
		log.Warnf("failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables and the index that keeps one open request per
// principal.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Subscription{}, &Request{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS subscription_requests_one_open
		ON subscription_requests (principal_id)
		WHERE status IN ('awaiting_receipt', 'pending_review')`).Error
	if err != nil {
		return fmt.Errorf("migrate: open request index: %w", err)
	}
	return nil
}

// lockKey takes a transaction-scoped advisory lock on name. It serializes
// writers of a key even while no row exists yet.
func lockKey(tx *gorm.DB, name string) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", name).Error
}
