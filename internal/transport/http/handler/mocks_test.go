package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/farmacy-notify/internal/domain"
	jwtinfra "github.com/farmacy-notify/internal/infrastructure/jwt"
	"github.com/farmacy-notify/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/mock"
)

// --- mocks ---

type mockNotifSvc struct{ mock.Mock }

func (m *mockNotifSvc) CreateAndSend(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, error) {
	args := m.Called(ctx, req)
	if n, _ := args.Get(0).(*domain.Notification); n != nil {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNotifSvc) SendScheduledDue(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *mockNotifSvc) SendDailyDigest(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *mockNotifSvc) ListForUser(ctx context.Context, userID int64, f domain.NotificationFilter) ([]domain.Notification, error) {
	args := m.Called(ctx, userID, f)
	list, _ := args.Get(0).([]domain.Notification)
	return list, args.Error(1)
}

func (m *mockNotifSvc) MarkRead(ctx context.Context, notificationID string, userID int64) (bool, error) {
	args := m.Called(ctx, notificationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockNotifSvc) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockNotifSvc) Broadcast(ctx context.Context, req domain.BroadcastRequest) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

type mockTokenSvc struct{ mock.Mock }

func (m *mockTokenSvc) Register(ctx context.Context, userID int64, req domain.RegisterTokenRequest) (*domain.DeviceToken, error) {
	args := m.Called(ctx, userID, req)
	if t, _ := args.Get(0).(*domain.DeviceToken); t != nil {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTokenSvc) Unregister(ctx context.Context, userID int64, token string) (bool, error) {
	args := m.Called(ctx, userID, token)
	return args.Bool(0), args.Error(1)
}

func (m *mockTokenSvc) UnregisterAll(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockTokenSvc) PrimaryToken(ctx context.Context, userID int64) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *mockTokenSvc) ActiveTokens(ctx context.Context, userID int64) ([]string, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]string)
	return list, args.Error(1)
}

func (m *mockTokenSvc) List(ctx context.Context, userID int64) ([]domain.DeviceToken, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]domain.DeviceToken)
	return list, args.Error(1)
}

func (m *mockTokenSvc) RemoveInvalidToken(ctx context.Context, userID int64, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

type mockTopicSvc struct{ mock.Mock }

func (m *mockTopicSvc) Create(ctx context.Context, req domain.CreateTopicRequest) (*domain.Topic, error) {
	args := m.Called(ctx, req)
	if t, _ := args.Get(0).(*domain.Topic); t != nil {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTopicSvc) List(ctx context.Context) ([]domain.Topic, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]domain.Topic)
	return list, args.Error(1)
}

func (m *mockTopicSvc) Subscribe(ctx context.Context, userID int64, topicName string) (bool, error) {
	args := m.Called(ctx, userID, topicName)
	return args.Bool(0), args.Error(1)
}

func (m *mockTopicSvc) Unsubscribe(ctx context.Context, userID int64, topicName string) (bool, error) {
	args := m.Called(ctx, userID, topicName)
	return args.Bool(0), args.Error(1)
}

func (m *mockTopicSvc) ListSubscriptions(ctx context.Context, userID int64) ([]domain.Topic, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]domain.Topic)
	return list, args.Error(1)
}

type mockJobSvc struct{ mock.Mock }

func (m *mockJobSvc) RegisterSystemJobs() error { return m.Called().Error(0) }

func (m *mockJobSvc) StartTestJob(ctx context.Context, userID int64, req domain.StartTestJobRequest) (bool, string, error) {
	args := m.Called(ctx, userID, req)
	return args.Bool(0), args.String(1), args.Error(2)
}

func (m *mockJobSvc) StopTestJob(ctx context.Context, userID int64, kind domain.JobKind) (bool, error) {
	args := m.Called(ctx, userID, kind)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobSvc) ListJobs() []domain.JobInfo {
	list, _ := m.Called().Get(0).([]domain.JobInfo)
	return list
}

func (m *mockJobSvc) EnqueueLogout(userID int64) (string, error) {
	args := m.Called(userID)
	return args.String(0), args.Error(1)
}

// --- helpers ---

// asUser attaches verified claims for userID with role to the request.
func asUser(r *http.Request, userID int64, role string) *http.Request {
	claims := &jwtinfra.Claims{
		Type:             jwtinfra.AccessTokenType,
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: strconv.FormatInt(userID, 10)},
	}
	return r.WithContext(middleware.WithClaims(r.Context(), claims))
}

// withChiID injects a chi URL param "id" into the request context.
func withChiID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
