package main

import (
	"context"
	"fmt"
	"time"

	"github.com/farmacy-notify/internal/config"
	"github.com/farmacy-notify/internal/domain"
	"github.com/farmacy-notify/internal/infrastructure/dynamo"
	"github.com/farmacy-notify/internal/infrastructure/gormstore"
	"github.com/farmacy-notify/internal/transport/http/handler"
	"github.com/sirupsen/logrus"
)

type notificationStore interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByUser(ctx context.Context, userID int64, f domain.NotificationFilter) ([]domain.Notification, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error)
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)
	RecordFailure(ctx context.Context, id string, f domain.DeliveryFailure) error
	MarkRead(ctx context.Context, id string, userID int64, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error)
}

type tokenStore interface {
	Upsert(ctx context.Context, userID int64, token, deviceType string, now time.Time) (*domain.DeviceToken, error)
	Delete(ctx context.Context, userID int64, token string) (bool, error)
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
	ListActive(ctx context.Context, userID int64) ([]domain.DeviceToken, error)
}

type topicStore interface {
	Create(ctx context.Context, t *domain.Topic) error
	GetByName(ctx context.Context, name string) (*domain.Topic, error)
	List(ctx context.Context) ([]domain.Topic, error)
	IsSubscribed(ctx context.Context, userID int64, topicID string) (bool, error)
	Subscribe(ctx context.Context, userID int64, topicID string) error
	Unsubscribe(ctx context.Context, userID int64, topicID string) (bool, error)
	ListForUser(ctx context.Context, userID int64) ([]domain.Topic, error)
}

type userStore interface {
	Get(ctx context.Context, userID int64) (*domain.UserProfile, error)
	ListWithCropTracking(ctx context.Context) ([]domain.UserProfile, error)
}

type contentStore interface {
	Tracking(ctx context.Context, trackingID int64) (*domain.CropTracking, error)
	WeekContent(ctx context.Context, cropID int64, week int, language string) (*domain.WeekContent, error)
}

// stores is one persistence backend, selected by STORE_DRIVER.
type stores struct {
	notifications notificationStore
	tokens        tokenStore
	topics        topicStore
	users         userStore
	content       contentStore
	ping          handler.HealthCheck
	close         func()
}

func openStores(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*stores, error) {
	switch cfg.StoreDriver {
	case "mysql":
		return openMySQL(cfg, log)
	case "dynamo":
		return openDynamo(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func openMySQL(cfg *config.Config, log logrus.FieldLogger) (*stores, error) {
	db, err := gormstore.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := gormstore.Migrate(db, log); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return &stores{
		notifications: gormstore.NewNotificationRepo(db),
		tokens:        gormstore.NewTokenRepo(db),
		topics:        gormstore.NewTopicRepo(db),
		users:         gormstore.NewUserRepo(db),
		content:       gormstore.NewContentRepo(db),
		ping:          sqlDB.PingContext,
		close:         func() { _ = sqlDB.Close() },
	}, nil
}

func openDynamo(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*stores, error) {
	client, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	t := cfg.DynamoTables
	if cfg.AutoMigrate {
		dynamo.Bootstrap(ctx, client, t, log)
	}
	return &stores{
		notifications: dynamo.NewNotificationRepo(client, t.Notifications),
		tokens:        dynamo.NewTokenRepo(client, t.DeviceTokens),
		topics:        dynamo.NewTopicRepo(client, t.Topics, t.Subscriptions),
		users:         dynamo.NewUserRepo(client, t.Users),
		content:       dynamo.NewContentRepo(client, t.CropTracking, t.CropWeeks, t.Crops),
		ping: func(ctx context.Context) error {
			return dynamo.Ping(ctx, client, t.Notifications)
		},
		close: func() {},
	}, nil
}
