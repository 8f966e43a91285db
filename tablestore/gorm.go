package tablestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/astral-systems/starmap/models"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entityRow struct {
	PartitionKey string `gorm:"primaryKey;size:64"`
	RowKey       string `gorm:"primaryKey;size:128"`
	Data         []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (entityRow) TableName() string {
	return "entities"
}

// GormStore implements Store on a relational database. Each entity is one row
// keyed by (partition_key, row_key) with the serialized entity as payload.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// SetupDatabase opens a gorm handle from a URL of the form "sqlite://<path>"
// or "postgres://...". sqlite connections are capped to a single open conn.
func SetupDatabase(dburl string, maxConns int) (*gorm.DB, error) {
	var dial gorm.Dialector
	openConns := maxConns
	isSqlite := false
	switch {
	case strings.HasPrefix(dburl, "sqlite://"):
		dial = sqlite.Open(dburl[len("sqlite://"):])
		openConns = 1
		isSqlite = true
	case strings.HasPrefix(dburl, "postgres://"), strings.HasPrefix(dburl, "postgresql://"):
		dial = postgres.Open(dburl)
	default:
		return nil, fmt.Errorf("unsupported or unrecognized database URL: %s", dburl)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 slogGorm.New(),
	})
	if err != nil {
		return nil, err
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxIdleConns(openConns)
	sqldb.SetMaxOpenConns(openConns)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if isSqlite {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, err
		}
	}
	return db, nil
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&entityRow{}); err != nil {
		return nil, fmt.Errorf("migrating entities table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Read(ctx context.Context, typ models.EntityType, id string) (*Record, error) {
	var row entityRow
	err := s.db.WithContext(ctx).
		First(&row, "partition_key = ? AND row_key = ?", partitionFor(typ), id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rowToRecord(typ, &row), nil
}

func (s *GormStore) Write(ctx context.Context, rec *Record) (*Record, error) {
	now := time.Now().UTC()
	row := entityRow{
		PartitionKey: partitionFor(rec.Type),
		RowKey:       rec.ID,
		Data:         rec.Data,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "partition_key"}, {Name: "row_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rowToRecord(rec.Type, &row), nil
}

func (s *GormStore) Delete(ctx context.Context, typ models.EntityType, id string) error {
	res := s.db.WithContext(ctx).
		Delete(&entityRow{}, "partition_key = ? AND row_key = ?", partitionFor(typ), id)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, typ models.EntityType, filter ListFilter) ([]*Record, error) {
	q := s.db.WithContext(ctx).
		Where("partition_key = ?", partitionFor(typ)).
		Order("row_key ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []entityRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		out = append(out, rowToRecord(typ, &rows[i]))
	}
	return out, nil
}

func rowToRecord(typ models.EntityType, row *entityRow) *Record {
	return &Record{
		Type:      typ,
		ID:        row.RowKey,
		Data:      row.Data,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
