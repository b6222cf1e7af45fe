package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/farmacy-notify/internal/domain"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockTokenStore struct{ mock.Mock }

func (m *mockTokenStore) Upsert(ctx context.Context, userID int64, token, deviceType string, now time.Time) (*domain.DeviceToken, error) {
	args := m.Called(ctx, userID, token, deviceType, now)
	if dt, _ := args.Get(0).(*domain.DeviceToken); dt != nil {
		return dt, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockTokenStore) Delete(ctx context.Context, userID int64, token string) (bool, error) {
	args := m.Called(ctx, userID, token)
	return args.Bool(0), args.Error(1)
}
func (m *mockTokenStore) DeleteByToken(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}
func (m *mockTokenStore) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockTokenStore) ListActive(ctx context.Context, userID int64) ([]domain.DeviceToken, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.DeviceToken), args.Error(1)
}

// --- helpers ---

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newService(repo *mockTokenStore) *service {
	log, _ := test.NewNullLogger()
	s := NewService(ServiceDeps{Repo: repo, Logger: log}).(*service)
	s.now = func() time.Time { return fixedNow }
	return s
}

// --- tests ---

func TestRegister_TrimsAndUpserts(t *testing.T) {
	repo := &mockTokenStore{}
	want := &domain.DeviceToken{ID: "d1", UserID: 1, Token: "T1", DeviceType: "android", IsActive: true}
	repo.On("Upsert", mock.Anything, int64(1), "T1", "android", fixedNow).Return(want, nil)

	got, err := newService(repo).Register(context.Background(), 1, domain.RegisterTokenRequest{Token: "  T1 ", DeviceType: "android"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	repo.AssertExpectations(t)
}

func TestRegister_EmptyToken(t *testing.T) {
	repo := &mockTokenStore{}
	_, err := newService(repo).Register(context.Background(), 1, domain.RegisterTokenRequest{Token: "   "})
	assert.ErrorIs(t, err, domain.ErrValidation)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRegister_UnknownDeviceType(t *testing.T) {
	repo := &mockTokenStore{}
	_, err := newService(repo).Register(context.Background(), 1, domain.RegisterTokenRequest{Token: "T1", DeviceType: "fridge"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUnregister_MissingIsFalse(t *testing.T) {
	repo := &mockTokenStore{}
	repo.On("Delete", mock.Anything, int64(1), "T1").Return(false, nil)

	ok, err := newService(repo).Unregister(context.Background(), 1, "T1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnregisterAll_NoneStillSucceeds(t *testing.T) {
	repo := &mockTokenStore{}
	repo.On("DeleteAllForUser", mock.Anything, int64(1)).Return(int64(0), nil)

	ok, err := newService(repo).UnregisterAll(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnregisterAll_StoreFailure(t *testing.T) {
	repo := &mockTokenStore{}
	repo.On("DeleteAllForUser", mock.Anything, int64(1)).Return(int64(0), domain.ErrPersistence)

	ok, err := newService(repo).UnregisterAll(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.False(t, ok)
}

func TestPrimaryToken_FirstOfMostRecent(t *testing.T) {
	repo := &mockTokenStore{}
	repo.On("ListActive", mock.Anything, int64(1)).Return([]domain.DeviceToken{{Token: "newest"}, {Token: "older"}}, nil)

	tok, err := newService(repo).PrimaryToken(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "newest", tok)
}

func TestPrimaryToken_NoneIsEmpty(t *testing.T) {
	repo := &mockTokenStore{}
	repo.On("ListActive", mock.Anything, int64(1)).Return([]domain.DeviceToken{}, nil)

	tok, err := newService(repo).PrimaryToken(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestActiveTokens(t *testing.T) {
	repo := &mockTokenStore{}
	repo.On("ListActive", mock.Anything, int64(3)).Return([]domain.DeviceToken{{Token: "a"}, {Token: "b"}}, nil)

	toks, err := newService(repo).ActiveTokens(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, toks)
}

func TestRemoveInvalidToken_DeletesByToken(t *testing.T) {
	repo := &mockTokenStore{}
	repo.On("DeleteByToken", mock.Anything, "dead").Return(true, nil)

	require.NoError(t, newService(repo).RemoveInvalidToken(context.Background(), 9, "dead"))
	repo.AssertExpectations(t)
}

func TestRemoveInvalidToken_PropagatesError(t *testing.T) {
	repo := &mockTokenStore{}
	repo.On("DeleteByToken", mock.Anything, "dead").Return(false, errors.New("boom"))

	assert.Error(t, newService(repo).RemoveInvalidToken(context.Background(), 9, "dead"))
}
