package gormstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/farmacy-notify/internal/domain"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// --- helpers ---

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), newConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	log, _ := test.NewNullLogger()
	require.NoError(t, Migrate(db, log))
	require.NoError(t, db.AutoMigrate(
		&userRow{}, &cropTrackingRow{}, &weekRow{}, &weekTranslationRow{}, &cropTranslationRow{},
	))
	return db
}

func seedNotification(t *testing.T, repo *NotificationRepo, id string, userID int64, created time.Time, scheduled *time.Time) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &domain.Notification{
		ID:           id,
		UserID:       userID,
		Type:         domain.TypeSystemAlert,
		Priority:     domain.PriorityMedium,
		Title:        "title " + id,
		Message:      "message " + id,
		Data:         map[string]any{"k": "v"},
		CreatedAt:    created,
		ScheduledFor: scheduled,
	}))
}

// --- notifications ---

func TestNotificationRepo_CreateAndGet(t *testing.T) {
	repo := NewNotificationRepo(newTestDB(t))
	now := time.Now().UTC().Truncate(time.Second)
	seedNotification(t, repo, "n1", 7, now, nil)

	got, err := repo.Get(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "v", got.Data["k"])
	assert.Nil(t, got.SentAt)
	assert.False(t, got.IsRead)
}

func TestNotificationRepo_Get_NotFound(t *testing.T) {
	repo := NewNotificationRepo(newTestDB(t))
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotificationRepo_ListByUser_NewestFirstWithPaging(t *testing.T) {
	repo := NewNotificationRepo(newTestDB(t))
	base := time.Now().UTC().Add(-time.Hour)
	seedNotification(t, repo, "a", 7, base, nil)
	seedNotification(t, repo, "b", 7, base.Add(time.Minute), nil)
	seedNotification(t, repo, "c", 7, base.Add(2*time.Minute), nil)
	seedNotification(t, repo, "x", 8, base.Add(3*time.Minute), nil)

	got, err := repo.ListByUser(context.Background(), 7, domain.NotificationFilter{Skip: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestNotificationRepo_ListDue_RespectsScheduleAndSent(t *testing.T) {
	repo := NewNotificationRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	seedNotification(t, repo, "due-null", 1, now.Add(-3*time.Minute), nil)
	seedNotification(t, repo, "due-past", 1, now.Add(-2*time.Minute), &past)
	seedNotification(t, repo, "future", 1, now.Add(-time.Minute), &future)
	seedNotification(t, repo, "sent", 1, now.Add(-4*time.Minute), nil)
	ok, err := repo.MarkSent(ctx, "sent", now)
	require.NoError(t, err)
	require.True(t, ok)

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(due))
	for _, n := range due {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"due-null", "due-past"}, ids)
}

func TestNotificationRepo_ListDue_SkipsBackoffAndFailed(t *testing.T) {
	repo := NewNotificationRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	seedNotification(t, repo, "backoff", 1, now.Add(-time.Hour), nil)
	seedNotification(t, repo, "failed", 1, now.Add(-time.Hour), nil)

	later := now.Add(10 * time.Minute)
	require.NoError(t, repo.RecordFailure(ctx, "backoff", domain.DeliveryFailure{RetryCount: 1, NextAttemptAt: &later, Reason: "unavailable"}))
	require.NoError(t, repo.RecordFailure(ctx, "failed", domain.DeliveryFailure{RetryCount: 5, FailedAt: &now, Reason: "gave up"}))

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = repo.ListDue(ctx, later.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "backoff", due[0].ID)
	assert.Equal(t, 1, due[0].RetryCount)
}

func TestNotificationRepo_Claim_ExcludesFromDue(t *testing.T) {
	repo := NewNotificationRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	seedNotification(t, repo, "n1", 1, now.Add(-time.Minute), nil)

	ok, err := repo.Claim(ctx, "n1", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(ctx, "n1", now, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// an expired lease is claimable again
	ok, err = repo.Claim(ctx, "n1", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNotificationRepo_MarkSent_OnlyOnce(t *testing.T) {
	repo := NewNotificationRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	seedNotification(t, repo, "n1", 1, now, nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.MarkSent(ctx, "n1", now)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := repo.Get(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, got.SentAt)
}

func TestNotificationRepo_MarkRead_OtherUserRejected(t *testing.T) {
	repo := NewNotificationRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	seedNotification(t, repo, "n1", 7, now, nil)

	ok, err := repo.MarkRead(ctx, "n1", 8, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, got.IsRead)
}

func TestNotificationRepo_MarkRead_AlreadyReadStillTrue(t *testing.T) {
	repo := NewNotificationRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	seedNotification(t, repo, "n1", 7, now, nil)

	ok, err := repo.MarkRead(ctx, "n1", 7, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.MarkRead(ctx, "n1", 7, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNotificationRepo_MarkAllRead(t *testing.T) {
	repo := NewNotificationRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	seedNotification(t, repo, "a", 7, now, nil)
	seedNotification(t, repo, "b", 7, now, nil)
	seedNotification(t, repo, "c", 8, now, nil)

	n, err := repo.MarkAllRead(ctx, 7, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	unread, err := repo.ListByUser(ctx, 8, domain.NotificationFilter{Limit: 10, UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}

// --- tokens ---

func TestTokenRepo_Upsert_ReassignsToNewOwner(t *testing.T) {
	db := newTestDB(t)
	repo := NewTokenRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Upsert(ctx, 1, "tok-A", "android", now)
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, 2, "tok-A", "android", now.Add(time.Second))
	require.NoError(t, err)

	var rows []deviceTokenRow
	require.NoError(t, db.Where("token = ?", "tok-A").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].UserID)

	prev, err := repo.ListActive(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, prev)
}

func TestTokenRepo_Upsert_SameOwnerRefreshes(t *testing.T) {
	repo := NewTokenRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := repo.Upsert(ctx, 1, "tok-A", "ios", now)
	require.NoError(t, err)
	second, err := repo.Upsert(ctx, 1, "tok-A", "", now.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "ios", second.DeviceType)

	active, err := repo.ListActive(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestTokenRepo_ListActive_MostRecentFirst(t *testing.T) {
	repo := NewTokenRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Upsert(ctx, 1, "old", "android", now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, 1, "new", "android", now)
	require.NoError(t, err)

	active, err := repo.ListActive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "new", active[0].Token)
}

func TestTokenRepo_DeleteVariants(t *testing.T) {
	repo := NewTokenRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	for _, tok := range []string{"a", "b", "c"} {
		_, err := repo.Upsert(ctx, 1, tok, "web", now)
		require.NoError(t, err)
	}

	ok, err := repo.Delete(ctx, 2, "a")
	require.NoError(t, err)
	assert.False(t, ok, "non-owner cannot delete")

	ok, err = repo.DeleteByToken(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := repo.DeleteAllForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

// --- topics ---

func TestTopicRepo_CreateDuplicate_Conflict(t *testing.T) {
	repo := NewTopicRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, &domain.Topic{ID: "t1", Name: "weather", IsActive: true, CreatedAt: now, UpdatedAt: now}))
	err := repo.Create(ctx, &domain.Topic{ID: "t2", Name: "weather", IsActive: true, CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestTopicRepo_SubscribeIdempotent(t *testing.T) {
	repo := NewTopicRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, &domain.Topic{ID: "t1", Name: "weather", IsActive: true, CreatedAt: now, UpdatedAt: now}))

	require.NoError(t, repo.Subscribe(ctx, 5, "t1"))
	require.NoError(t, repo.Subscribe(ctx, 5, "t1"))

	subscribed, err := repo.IsSubscribed(ctx, 5, "t1")
	require.NoError(t, err)
	assert.True(t, subscribed)

	topics, err := repo.ListForUser(ctx, 5)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "weather", topics[0].Name)

	removed, err := repo.Unsubscribe(ctx, 5, "t1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.Unsubscribe(ctx, 5, "t1")
	require.NoError(t, err)
	assert.False(t, removed)
}

// --- users and content ---

func TestUserRepo_ListWithCropTracking(t *testing.T) {
	db := newTestDB(t)
	tracking := int64(11)
	require.NoError(t, db.Create(&userRow{
		ID:                    1,
		PreferredLanguage:     "hi",
		NotificationSettings:  datatypes.JSON(`{"push_notifications":true,"notification_types":{"daily_updates":true}}`),
		CurrentCropTrackingID: &tracking,
	}).Error)
	require.NoError(t, db.Create(&userRow{ID: 2, PreferredLanguage: "en"}).Error)

	users, err := NewUserRepo(db).ListWithCropTracking(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(1), users[0].ID)
	assert.Equal(t, "hi", users[0].Language())
	assert.True(t, users[0].NotificationSettings.WantsDailyDigest())
}

func TestContentRepo_WeekContent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&cropTrackingRow{ID: 11, UserID: 1, CropID: 3, CurrentWeek: 4}).Error)
	require.NoError(t, db.Create(&weekRow{ID: 40, CropID: 3, WeekNumber: 4, ImageURLs: datatypes.JSON(`["https://img/1.png","https://img/2.png"]`)}).Error)
	require.NoError(t, db.Create(&weekTranslationRow{ID: 1, WeekID: 40, Language: "hi", Title: "Irrigate lightly"}).Error)
	require.NoError(t, db.Create(&cropTranslationRow{ID: 1, CropID: 3, Language: "hi", Name: "Tomato", Variety: "Roma"}).Error)

	repo := NewContentRepo(db)
	tr, err := repo.Tracking(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 4, tr.CurrentWeek)

	wc, err := repo.WeekContent(ctx, tr.CropID, tr.CurrentWeek, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Tomato", wc.CropName)
	assert.Equal(t, "https://img/1.png", wc.FirstImage())

	_, err = repo.WeekContent(ctx, 3, 4, "en")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
