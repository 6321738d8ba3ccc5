package fsbackend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// BlobModel is the single table a GORMBackend persists blobs into, keyed by
// the harness-level virtual path.
type BlobModel struct {
	Path      string `gorm:"primaryKey"`
	Data      []byte
	UpdatedAt time.Time
}

func (BlobModel) TableName() string { return "fs_blobs" }

// GORMBackend persists Backend paths as rows in a SQL table.
type GORMBackend struct {
	db *gorm.DB
}

// Driver selects the underlying SQL dialect.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// NewGORMBackend opens a connection with driver/dsn and migrates BlobModel.
func NewGORMBackend(driver Driver, dsn string) (*GORMBackend, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("fsbackend: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fsbackend: connect: %w", err)
	}
	if err := db.AutoMigrate(&BlobModel{}); err != nil {
		return nil, fmt.Errorf("fsbackend: migrate: %w", err)
	}
	return &GORMBackend{db: db}, nil
}

func (b *GORMBackend) Read(ctx context.Context, path string) ([]byte, error) {
	var row BlobModel
	if err := b.db.WithContext(ctx).Where("path = ?", path).First(&row).Error; err != nil {
		return nil, err
	}
	return row.Data, nil
}

func (b *GORMBackend) Write(ctx context.Context, path string, data []byte) error {
	row := BlobModel{Path: path, Data: data, UpdatedAt: time.Now().UTC()}
	return b.db.WithContext(ctx).Save(&row).Error
}

func (b *GORMBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var rows []BlobModel
	if err := b.db.WithContext(ctx).Select("path").Where("path LIKE ?", prefix+"%").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if strings.HasPrefix(r.Path, prefix) {
			out = append(out, r.Path)
		}
	}
	return out, nil
}

func (b *GORMBackend) Exists(ctx context.Context, path string) (bool, error) {
	var count int64
	if err := b.db.WithContext(ctx).Model(&BlobModel{}).Where("path = ?", path).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (b *GORMBackend) Delete(ctx context.Context, path string) error {
	return b.db.WithContext(ctx).Where("path = ?", path).Delete(&BlobModel{}).Error
}

// DB returns the underlying connection, so other components (the Database
// middleware's execute_sql tool) can query the same database this backend
// persists blobs into rather than opening a second connection.
func (b *GORMBackend) DB() *gorm.DB { return b.db }

var _ Backend = (*GORMBackend)(nil)
