package topic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/farmacy-notify/internal/domain"
	"github.com/farmacy-notify/internal/pkg/id"
	"github.com/farmacy-notify/internal/pkg/validate"
	"github.com/sirupsen/logrus"
)

type Service interface {
	Create(ctx context.Context, req domain.CreateTopicRequest) (*domain.Topic, error)
	List(ctx context.Context) ([]domain.Topic, error)
	// Subscribe reports false without error when the user or topic does not exist.
	Subscribe(ctx context.Context, userID int64, topicName string) (bool, error)
	Unsubscribe(ctx context.Context, userID int64, topicName string) (bool, error)
	ListSubscriptions(ctx context.Context, userID int64) ([]domain.Topic, error)
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
}

type tokenRegistry interface {
	ActiveTokens(ctx context.Context, userID int64) ([]string, error)
}

type topicClient interface {
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (int, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (int, error)
}

type service struct {
	repo   topicStore
	users  userStore
	tokens tokenRegistry
	push   topicClient
	log    logrus.FieldLogger
}

type ServiceDeps struct {
	Repo   topicStore
	Users  userStore
	Tokens tokenRegistry
	Push   topicClient
	Logger logrus.FieldLogger
}

func NewService(deps ServiceDeps) Service {
	return &service{
		repo:   deps.Repo,
		users:  deps.Users,
		tokens: deps.Tokens,
		push:   deps.Push,
		log:    deps.Logger.WithField("component", "topics"),
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateTopicRequest) (*domain.Topic, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := &domain.Topic{
		ID:          id.New(),
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *service) List(ctx context.Context) ([]domain.Topic, error) {
	return s.repo.List(ctx)
}

func (s *service) ListSubscriptions(ctx context.Context, userID int64) ([]domain.Topic, error) {
	return s.repo.ListForUser(ctx, userID)
}

func (s *service) Subscribe(ctx context.Context, userID int64, topicName string) (bool, error) {
	t, err := s.resolve(ctx, userID, topicName)
	if t == nil || err != nil {
		return false, err
	}
	// Inactive topics accept no new members; leaving one still works.
	if !t.IsActive {
		return false, nil
	}
	subscribed, err := s.repo.IsSubscribed(ctx, userID, t.ID)
	if err != nil {
		return false, err
	}
	if subscribed {
		return true, nil
	}
	if err := s.repo.Subscribe(ctx, userID, t.ID); err != nil {
		return false, err
	}
	return s.syncProvider(ctx, userID, t.Name, s.push.SubscribeToTopic)
}

func (s *service) Unsubscribe(ctx context.Context, userID int64, topicName string) (bool, error) {
	t, err := s.resolve(ctx, userID, topicName)
	if t == nil || err != nil {
		return false, err
	}
	removed, err := s.repo.Unsubscribe(ctx, userID, t.ID)
	if err != nil {
		return false, err
	}
	if !removed {
		return true, nil
	}
	return s.syncProvider(ctx, userID, t.Name, s.push.UnsubscribeFromTopic)
}

// resolve returns nil without error when either the user or the topic is unknown.
func (s *service) resolve(ctx context.Context, userID int64, topicName string) (*domain.Topic, error) {
	if _, err := s.users.Get(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	t, err := s.repo.GetByName(ctx, topicName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// syncProvider mirrors a membership change onto the user's active devices.
// A user without devices is trivially in sync.
func (s *service) syncProvider(ctx context.Context, userID int64, topic string,
	fn func(ctx context.Context, tokens []string, topic string) (int, error)) (bool, error) {
	tokens, err := s.tokens.ActiveTokens(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(tokens) == 0 {
		return true, nil
	}
	n, err := fn(ctx, tokens, topic)
	if err != nil {
		s.log.WithFields(logrus.Fields{"user_id": userID, "topic": topic}).WithError(err).Warn("provider topic sync failed")
	}
	return n > 0, nil
}
