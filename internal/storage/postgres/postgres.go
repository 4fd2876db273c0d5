// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/flashloan-arb/internal/storage"
	"github.com/rovshanmuradov/flashloan-arb/internal/storage/models"
)

// migrationLockID – ключ advisory lock на время миграции.
const migrationLockID = 101

const slowQueryThreshold = 200 * time.Millisecond

// gormLogger реализует интерфейс logger.Interface для GORM
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger, level logger.LogLevel) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  level,
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

// Trace логирует запрос: ошибки всегда, медленные на Warn, остальные на Info.
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
	case err != nil && l.logLevel >= logger.Error:
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
	case elapsed > slowQueryThreshold && l.logLevel >= logger.Warn:
		l.zapLogger.Warn("slow query", fields...)
	case l.logLevel >= logger.Info:
		l.zapLogger.Info("trace", fields...)
	}
}

// postgresJournal реализует интерфейс storage.Journal
type postgresJournal struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewJournal подключается к dsn. Без debug запросы логируются на уровне Warn.
func NewJournal(dsn string, debug bool, zapLogger *zap.Logger) (storage.Journal, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	gormLogger := newGormLogger(zapLogger.Named("gorm"), level)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
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

	// один цикл пишет одну запись за итерацию
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresJournal{
		db:     db,
		logger: zapLogger.Named("journal"),
	}, nil
}

// RunMigrations создаёт таблицы под advisory lock.
func (p *postgresJournal) RunMigrations() error {
	var lockObtained bool
	err := p.db.Raw("SELECT pg_try_advisory_lock(?)", migrationLockID).Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return storage.ErrMigrationInProgress
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(?)", migrationLockID)

	if err := p.db.AutoMigrate(&models.ArbitrageAttempt{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	p.logger.Info("Migrations applied")
	return nil
}

func (p *postgresJournal) SaveAttempt(ctx context.Context, attempt *models.ArbitrageAttempt) error {
	return p.db.WithContext(ctx).Create(attempt).Error
}

func (p *postgresJournal) ListAttempts(ctx context.Context, inputMint, outputMint string, limit int) ([]*models.ArbitrageAttempt, error) {
	var attempts []*models.ArbitrageAttempt
	q := p.db.WithContext(ctx).Model(&models.ArbitrageAttempt{})
	if inputMint != "" {
		q = q.Where("input_mint = ?", inputMint)
	}
	if outputMint != "" {
		q = q.Where("output_mint = ?", outputMint)
	}
	err := q.Order("evaluated_at desc").Limit(limit).Find(&attempts).Error
	return attempts, err
}

func (p *postgresJournal) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
