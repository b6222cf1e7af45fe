package gormstore

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/farmacy-notify/internal/config"
	"github.com/farmacy-notify/internal/domain"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to MySQL with a silent GORM logger and the configured pool limits.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)

	db, err := gorm.Open(
		mysql.New(mysql.Config{DSN: dsn, DefaultStringSize: 256}),
		newConfig(),
	)
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	}
	return db, nil
}

// newConfig keeps SQL out of stdout and turns driver errors into gorm sentinels.
func newConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(
			log.New(io.Discard, "\r\n", log.LstdFlags),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Silent,
				IgnoreRecordNotFoundError: true,
			},
		),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the tables this service owns. The users and crop tables belong to the main app.
func Migrate(db *gorm.DB, log logrus.FieldLogger) error {
	for _, m := range []interface{}{
		&notificationRow{},
		&deviceTokenRow{},
		&topicRow{},
		&subscriptionRow{},
	} {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("auto-migrate %T: %w", m, err)
		}
	}
	log.Info("relational schema migrated")
	return nil
}

// storeErr tags an unexpected driver error as a persistence failure.
func storeErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrPersistence)
}
