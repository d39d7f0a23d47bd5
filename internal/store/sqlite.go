package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// cacheRow is the gorm model of a persisted entry.
type cacheRow struct {
	Key       string `gorm:"column:key;type:text;primaryKey"`
	Namespace string `gorm:"column:namespace;type:text;not null;index"`
	Value     string `gorm:"column:value;type:text;not null"`
	CreatedAt int64  `gorm:"column:created_at;not null"` // unix nanoseconds
	TTLNanos  int64  `gorm:"column:ttl_ns;not null"`
	Version   string `gorm:"column:version;type:text;not null"`
}

func (cacheRow) TableName() string {
	return "cache_entries"
}

func rowFromRecord(key string, rec Record) cacheRow {
	return cacheRow{
		Key:       key,
		Namespace: rec.Namespace,
		Value:     string(rec.Value),
		CreatedAt: rec.CreatedAt.UnixNano(),
		TTLNanos:  int64(rec.TTL),
		Version:   rec.Version,
	}
}

func (r cacheRow) record() Record {
	return Record{
		Namespace: r.Namespace,
		Value:     []byte(r.Value),
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		TTL:       time.Duration(r.TTLNanos),
		Version:   r.Version,
	}
}

// SQLiteStore persists entries in a SQLite database through gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database at dsn and migrates
// the cache table.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewSQLite(ctx, db)
}

// NewSQLite wraps an existing gorm handle and migrates the cache table.
func NewSQLite(ctx context.Context, db *gorm.DB) (*SQLiteStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&cacheRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate cache_entries: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, key string) (Record, bool, error) {
	var row cacheRow
	if err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("query cache by key: %w", err)
	}
	return row.record(), true, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, key string, rec Record) error {
	row := rowFromRecord(key, rec)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"namespace":  row.Namespace,
			"value":      row.Value,
			"created_at": row.CreatedAt,
			"ttl_ns":     row.TTLNanos,
			"version":    row.Version,
		}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("upsert cache key: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&cacheRow{}).Error; err != nil {
		return fmt.Errorf("delete cache key: %w", err)
	}
	return nil
}

// RemoveNamespace implements Store.
func (s *SQLiteStore) RemoveNamespace(ctx context.Context, namespace string) error {
	if err := s.db.WithContext(ctx).Where("namespace = ?", namespace).Delete(&cacheRow{}).Error; err != nil {
		return fmt.Errorf("delete cache namespace: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&cacheRow{}).Error
	if err != nil {
		return fmt.Errorf("clear cache table: %w", err)
	}
	return nil
}

// Purge implements Purger.
func (s *SQLiteStore) Purge(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("ttl_ns > 0 AND created_at + ttl_ns < ?", now.UnixNano()).
		Delete(&cacheRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge expired cache rows: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
