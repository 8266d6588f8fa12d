// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/storage"
	"github.com/rovshanmuradov/graduation-sniper/internal/storage/models"
)

const migrationLockKey = 101

// gormLogger routes GORM logs to zap.
type gormLogger struct {
	zapLogger     *zap.Logger
	logLevel      logger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger:     zapLogger,
		logLevel:      logger.Warn,
		slowThreshold: 200 * time.Millisecond,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
	case elapsed > l.slowThreshold && l.logLevel >= logger.Warn:
		l.zapLogger.Warn("slow query", fields...)
	case l.logLevel >= logger.Info:
		l.zapLogger.Debug("trace", fields...)
	}
}

// postgresStorage implements storage.Storage on GORM.
type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStorage connects to PostgreSQL.
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	return Open(postgres.Open(dsn), zapLogger)
}

// Open wraps any GORM dialector. Tests pass the sqlite dialector.
func Open(dialector gorm.Dialector, zapLogger *zap.Logger) (storage.Storage, error) {
	zapLogger = zapLogger.Named("storage")

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger,
	}, nil
}

// RunMigrations creates or updates the schema. On PostgreSQL an advisory lock
// keeps concurrent instances from migrating at the same time.
func (p *postgresStorage) RunMigrations() error {
	if p.db.Dialector.Name() == "postgres" {
		var lockObtained bool
		if err := p.db.Raw("SELECT pg_try_advisory_lock(?)", migrationLockKey).Scan(&lockObtained).Error; err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !lockObtained {
			return fmt.Errorf("another migration is in progress")
		}
		defer p.db.Exec("SELECT pg_advisory_unlock(?)", migrationLockKey)
	}

	if err := p.db.AutoMigrate(&models.Position{}, &models.Asset{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *postgresStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SavePosition upserts the full position row.
func (p *postgresStorage) SavePosition(ctx context.Context, pos domain.TradePosition) error {
	row := models.FromPosition(pos)
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save position %d: %w", pos.ID, err)
	}
	return nil
}

func (p *postgresStorage) LoadPositions(ctx context.Context, statuses ...domain.PositionStatus) ([]domain.TradePosition, error) {
	q := p.db.WithContext(ctx).Order("id asc")
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		q = q.Where("status IN ?", names)
	}

	var rows []models.Position
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	out := make([]domain.TradePosition, 0, len(rows))
	for _, r := range rows {
		pos, err := r.ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

func (p *postgresStorage) MaxPositionID(ctx context.Context) (uint64, error) {
	var maxID sql.NullInt64
	if err := p.db.WithContext(ctx).Model(&models.Position{}).Select("MAX(id)").Row().Scan(&maxID); err != nil {
		return 0, fmt.Errorf("max position id: %w", err)
	}
	if !maxID.Valid {
		return 0, nil
	}
	return uint64(maxID.Int64), nil
}

func (p *postgresStorage) SaveAsset(ctx context.Context, a domain.MonitoredAsset) error {
	row := models.FromAsset(a)
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (p *postgresStorage) DeleteAsset(ctx context.Context, id string) error {
	return p.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Asset{}).Error
}

func (p *postgresStorage) LoadAssets(ctx context.Context) ([]domain.MonitoredAsset, error) {
	var rows []models.Asset
	if err := p.db.WithContext(ctx).Order("added_at asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	out := make([]domain.MonitoredAsset, len(rows))
	for i, r := range rows {
		out[i] = r.ToDomain()
	}
	return out, nil
}
