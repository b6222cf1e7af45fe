package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/farmacy-notify/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TopicRepo stores broadcast topics and user subscriptions.
type TopicRepo struct {
	db *gorm.DB
}

func NewTopicRepo(db *gorm.DB) *TopicRepo {
	return &TopicRepo{db: db}
}

func (r *TopicRepo) Create(ctx context.Context, t *domain.Topic) error {
	row := topicRow{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Type:        t.Type,
		IsActive:    t.IsActive,
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("topic %q already exists: %w", t.Name, domain.ErrConflict)
		}
		return storeErr("create topic", err)
	}
	return nil
}

func (r *TopicRepo) GetByName(ctx context.Context, name string) (*domain.Topic, error) {
	var row topicRow
	if err := r.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error; err != nil {
		return nil, storeErr("get topic", err)
	}
	t := row.toDomain()
	return &t, nil
}

func (r *TopicRepo) List(ctx context.Context) ([]domain.Topic, error) {
	var rows []topicRow
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, storeErr("list topics", err)
	}
	return toTopics(rows), nil
}

func (r *TopicRepo) IsSubscribed(ctx context.Context, userID int64, topicID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&subscriptionRow{}).
		Where("user_id = ? AND topic_id = ?", userID, topicID).
		Count(&count).Error
	if err != nil {
		return false, storeErr("check subscription", err)
	}
	return count > 0, nil
}

// Subscribe records the membership; a duplicate is ignored.
func (r *TopicRepo) Subscribe(ctx context.Context, userID int64, topicID string) error {
	row := subscriptionRow{UserID: userID, TopicID: topicID, CreatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return storeErr("subscribe", err)
	}
	return nil
}

// Unsubscribe removes the membership and reports whether one existed.
func (r *TopicRepo) Unsubscribe(ctx context.Context, userID int64, topicID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND topic_id = ?", userID, topicID).
		Delete(&subscriptionRow{})
	if res.Error != nil {
		return false, storeErr("unsubscribe", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListForUser returns the topics userID is subscribed to.
func (r *TopicRepo) ListForUser(ctx context.Context, userID int64) ([]domain.Topic, error) {
	var rows []topicRow
	err := r.db.WithContext(ctx).
		Joins("JOIN user_topic_subscriptions s ON s.topic_id = notification_topics.id").
		Where("s.user_id = ?", userID).
		Order("notification_topics.name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list user topics", err)
	}
	return toTopics(rows), nil
}

func toTopics(rows []topicRow) []domain.Topic {
	out := make([]domain.Topic, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}
