package token

import (
	"context"
	"strings"
	"time"

	"github.com/farmacy-notify/internal/domain"
	"github.com/farmacy-notify/internal/pkg/validate"
	"github.com/sirupsen/logrus"
)

// Service is the token registry. A token string is owned by at most one user.
type Service interface {
	Register(ctx context.Context, userID int64, req domain.RegisterTokenRequest) (*domain.DeviceToken, error)
	// Unregister reports false, not an error, when the pair does not exist.
	Unregister(ctx context.Context, userID int64, token string) (bool, error)
	// UnregisterAll removes every token of the user and succeeds even if there were none.
	UnregisterAll(ctx context.Context, userID int64) (bool, error)
	// PrimaryToken returns the most recently used active token, or "" when the user has none.
	PrimaryToken(ctx context.Context, userID int64) (string, error)
	ActiveTokens(ctx context.Context, userID int64) ([]string, error)
	List(ctx context.Context, userID int64) ([]domain.DeviceToken, error)
	RemoveInvalidToken(ctx context.Context, userID int64, token string) error
}

type tokenStore interface {
	Upsert(ctx context.Context, userID int64, token, deviceType string, now time.Time) (*domain.DeviceToken, error)
	Delete(ctx context.Context, userID int64, token string) (bool, error)
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
	ListActive(ctx context.Context, userID int64) ([]domain.DeviceToken, error)
}

type service struct {
	repo tokenStore
	log  logrus.FieldLogger
	now  func() time.Time
}

type ServiceDeps struct {
	Repo   tokenStore
	Logger logrus.FieldLogger
}

func NewService(deps ServiceDeps) Service {
	return &service{
		repo: deps.Repo,
		log:  deps.Logger.WithField("component", "token_registry"),
		now:  time.Now,
	}
}

func (s *service) Register(ctx context.Context, userID int64, req domain.RegisterTokenRequest) (*domain.DeviceToken, error) {
	req.Token = strings.TrimSpace(req.Token)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	dt, err := s.repo.Upsert(ctx, userID, req.Token, req.DeviceType, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.log.WithField("user_id", userID).Debug("device token registered")
	return dt, nil
}

func (s *service) Unregister(ctx context.Context, userID int64, token string) (bool, error) {
	return s.repo.Delete(ctx, userID, token)
}

func (s *service) UnregisterAll(ctx context.Context, userID int64) (bool, error) {
	n, err := s.repo.DeleteAllForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "removed": n}).Info("device tokens cleared")
	return true, nil
}

func (s *service) PrimaryToken(ctx context.Context, userID int64) (string, error) {
	tokens, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", nil
	}
	return tokens[0].Token, nil
}

func (s *service) ActiveTokens(ctx context.Context, userID int64) ([]string, error) {
	tokens, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t.Token)
	}
	return out, nil
}

func (s *service) List(ctx context.Context, userID int64) ([]domain.DeviceToken, error) {
	return s.repo.ListActive(ctx, userID)
}

// RemoveInvalidToken drops a token the provider reported as unregistered. The token
// may have moved to another user since the send, so the delete is by token alone.
func (s *service) RemoveInvalidToken(ctx context.Context, userID int64, token string) error {
	removed, err := s.repo.DeleteByToken(ctx, token)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "removed": removed}).Warn("invalid device token removed")
	return nil
}
