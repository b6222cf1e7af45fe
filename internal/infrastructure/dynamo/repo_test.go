package dynamo

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/farmacy-notify/internal/config"
	"github.com/farmacy-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTables = config.DynamoTables{
	Notifications: "notifications",
	DeviceTokens:  "tokens",
	Topics:        "topics",
	Subscriptions: "subs",
	Users:         "users",
	CropTracking:  "tracking",
	CropWeeks:     "weeks",
	Crops:         "crops",
}

// --- mock ---

type mockAPI struct{ mock.Mock }

func (m *mockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.DeleteItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *mockAPI) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.ScanOutput)
	return out, args.Error(1)
}

func (m *mockAPI) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.BatchGetItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.BatchWriteItemOutput)
	return out, args.Error(1)
}

// --- helpers ---

var (
	ctx = context.Background()
	t0  = time.Date(2025, 3, 1, 2, 30, 0, 0, time.UTC)
)

func ccf() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func mustMarshal(t *testing.T, v interface{}) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	return item
}

// --- notifications ---

func TestNotificationItem_PendingAndDue(t *testing.T) {
	sched := t0.Add(time.Hour)
	it := toNotificationItem(&domain.Notification{ID: "n1", CreatedAt: t0, ScheduledFor: &sched})
	assert.Equal(t, pendingMarker, it.Pending)
	assert.Equal(t, millis(sched), it.DueAt)

	sent := t0
	it = toNotificationItem(&domain.Notification{ID: "n2", CreatedAt: t0, SentAt: &sent})
	assert.Empty(t, it.Pending)

	n := it.toDomain()
	require.NotNil(t, n.SentAt)
	assert.True(t, n.SentAt.Equal(sent))
}

func TestNotificationCreate_ConditionalOnNewID(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	api.On("PutItem", ctx, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		_, pending := in.Item[attrPending]
		return *in.ConditionExpression == "attribute_not_exists(#id)" && pending
	})).Return(&dynamodb.PutItemOutput{}, nil)

	require.NoError(t, repo.Create(ctx, &domain.Notification{ID: "n1", UserID: 42, CreatedAt: t0}))
	api.AssertExpectations(t)
}

func TestNotificationGet_NotFound(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaim_LostRace(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	api.On("UpdateItem", ctx, mock.Anything).Return(nil, ccf()).Once()

	ok, err := repo.Claim(ctx, "n1", t0, 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaim_SetsLease(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	api.On("UpdateItem", ctx, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		until := in.ExpressionAttributeValues[":until"].(*types.AttributeValueMemberN).Value
		return until == num(millis(t0.Add(2*time.Minute))).Value
	})).Return(&dynamodb.UpdateItemOutput{}, nil)

	ok, err := repo.Claim(ctx, "n1", t0, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkSent_OnlyFirstWins(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	api.On("UpdateItem", ctx, mock.Anything).Return(&dynamodb.UpdateItemOutput{}, nil).Once()
	api.On("UpdateItem", ctx, mock.Anything).Return(nil, ccf()).Once()

	first, err := repo.MarkSent(ctx, "n1", t0)
	require.NoError(t, err)
	second, err := repo.MarkSent(ctx, "n1", t0)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestMarkSent_ThrottleIsPersistenceError(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	api.On("UpdateItem", ctx, mock.Anything).Return(nil, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")})

	_, err := repo.MarkSent(ctx, "n1", t0)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestRecordFailure_TerminalLeavesPendingIndex(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	failed := t0
	api.On("UpdateItem", ctx, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return *in.UpdateExpression == "SET #retry = :retry, #err = :err, #failed = :failed REMOVE #claim, #p, #next" &&
			in.ExpressionAttributeNames["#p"] == attrPending
	})).Return(&dynamodb.UpdateItemOutput{}, nil)

	require.NoError(t, repo.RecordFailure(ctx, "n1", domain.DeliveryFailure{RetryCount: 5, FailedAt: &failed, Reason: "unavailable"}))
	api.AssertExpectations(t)
}

func TestRecordFailure_RetryMovesDueAt(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	next := t0.Add(time.Minute)
	api.On("UpdateItem", ctx, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return *in.UpdateExpression == "SET #retry = :retry, #err = :err, #next = :next, #due = :next REMOVE #claim"
	})).Return(&dynamodb.UpdateItemOutput{}, nil)

	require.NoError(t, repo.RecordFailure(ctx, "n1", domain.DeliveryFailure{RetryCount: 1, NextAttemptAt: &next, Reason: "x"}))
	api.AssertExpectations(t)
}

func TestRecordFailure_AlreadySentIsNoop(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	api.On("UpdateItem", ctx, mock.Anything).Return(nil, ccf())

	assert.NoError(t, repo.RecordFailure(ctx, "n1", domain.DeliveryFailure{RetryCount: 1}))
}

func TestMarkRead_OtherUser(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	api.On("UpdateItem", ctx, mock.Anything).Return(nil, ccf())

	ok, err := repo.MarkRead(ctx, "n1", 99, t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListByUser_SkipLimitAcrossPages(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	page := func(ids ...string) []map[string]types.AttributeValue {
		var out []map[string]types.AttributeValue
		for _, id := range ids {
			out = append(out, mustMarshal(t, toNotificationItem(&domain.Notification{ID: id, UserID: 42, CreatedAt: t0})))
		}
		return out
	}
	api.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool { return in.ExclusiveStartKey == nil })).
		Return(&dynamodb.QueryOutput{Items: page("a", "b"), LastEvaluatedKey: strKey(attrNotificationID, "b")}, nil).Once()
	api.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool { return in.ExclusiveStartKey != nil })).
		Return(&dynamodb.QueryOutput{Items: page("c", "d")}, nil).Once()

	got, err := repo.ListByUser(ctx, 42, domain.NotificationFilter{Skip: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestListDue_RechecksPredicate(t *testing.T) {
	api := &mockAPI{}
	repo := NewNotificationRepo(api, "notifications")
	later := t0.Add(time.Hour)
	items := []map[string]types.AttributeValue{
		mustMarshal(t, toNotificationItem(&domain.Notification{ID: "due", CreatedAt: t0.Add(-time.Minute)})),
		mustMarshal(t, toNotificationItem(&domain.Notification{ID: "backoff", CreatedAt: t0, NextAttemptAt: &later})),
	}
	api.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return *in.IndexName == indexPendingDue
	})).Return(&dynamodb.QueryOutput{Items: items}, nil)

	got, err := repo.ListDue(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "due", got[0].ID)
}

// --- tokens ---

func TestTokenUpsert_NewToken(t *testing.T) {
	api := &mockAPI{}
	repo := NewTokenRepo(api, "tokens")
	api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)
	api.On("PutItem", ctx, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return *in.ConditionExpression == "attribute_not_exists(#tok)"
	})).Return(&dynamodb.PutItemOutput{}, nil)

	dt, err := repo.Upsert(ctx, 42, "tok-a", "android", t0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), dt.UserID)
	assert.True(t, dt.IsActive)
	assert.NotEmpty(t, dt.ID)
}

func TestTokenUpsert_ReassignsFromOtherOwner(t *testing.T) {
	api := &mockAPI{}
	repo := NewTokenRepo(api, "tokens")
	existing := mustMarshal(t, tokenItem{Token: "tok-a", ID: "old", UserID: 7, IsActive: true})
	api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{Item: existing}, nil)
	api.On("PutItem", ctx, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		prev := in.ExpressionAttributeValues[":prev"].(*types.AttributeValueMemberN).Value
		return *in.ConditionExpression == "#uid = :prev" && prev == "7"
	})).Return(&dynamodb.PutItemOutput{}, nil)

	dt, err := repo.Upsert(ctx, 42, "tok-a", "ios", t0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), dt.UserID)
	assert.NotEqual(t, "old", dt.ID)
}

func TestTokenUpsert_SameOwnerRefreshKeepsDeviceType(t *testing.T) {
	api := &mockAPI{}
	repo := NewTokenRepo(api, "tokens")
	existing := mustMarshal(t, tokenItem{Token: "tok-a", ID: "t1", UserID: 42, DeviceType: "android", CreatedAt: millis(t0.Add(-time.Hour))})
	api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{Item: existing}, nil)
	api.On("UpdateItem", ctx, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return in.ExpressionAttributeValues[":dt"].(*types.AttributeValueMemberS).Value == "android"
	})).Return(&dynamodb.UpdateItemOutput{}, nil)

	dt, err := repo.Upsert(ctx, 42, "tok-a", "", t0)
	require.NoError(t, err)
	assert.Equal(t, "t1", dt.ID)
	assert.True(t, dt.LastUsedAt.Equal(t0))
}

func TestTokenUpsert_RetriesOnRace(t *testing.T) {
	api := &mockAPI{}
	repo := NewTokenRepo(api, "tokens")
	api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)
	api.On("PutItem", ctx, mock.Anything).Return(nil, ccf()).Once()
	api.On("PutItem", ctx, mock.Anything).Return(&dynamodb.PutItemOutput{}, nil).Once()

	_, err := repo.Upsert(ctx, 42, "tok-a", "android", t0)
	require.NoError(t, err)
	api.AssertNumberOfCalls(t, "PutItem", 2)
}

func TestTokenDelete_NotOwned(t *testing.T) {
	api := &mockAPI{}
	repo := NewTokenRepo(api, "tokens")
	api.On("DeleteItem", ctx, mock.Anything).Return(nil, ccf())

	ok, err := repo.Delete(ctx, 42, "tok-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenDeleteByToken_ReportsExisting(t *testing.T) {
	api := &mockAPI{}
	repo := NewTokenRepo(api, "tokens")
	api.On("DeleteItem", ctx, mock.Anything).Return(&dynamodb.DeleteItemOutput{Attributes: strKey(attrToken, "tok-a")}, nil).Once()
	api.On("DeleteItem", ctx, mock.Anything).Return(&dynamodb.DeleteItemOutput{}, nil).Once()

	first, err := repo.DeleteByToken(ctx, "tok-a")
	require.NoError(t, err)
	second, err := repo.DeleteByToken(ctx, "tok-a")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestTokenListActive_MostRecentFirst(t *testing.T) {
	api := &mockAPI{}
	repo := NewTokenRepo(api, "tokens")
	items := []map[string]types.AttributeValue{
		mustMarshal(t, tokenItem{Token: "old", UserID: 42, IsActive: true, LastUsedAt: millis(t0)}),
		mustMarshal(t, tokenItem{Token: "new", UserID: 42, IsActive: true, LastUsedAt: millis(t0.Add(time.Hour))}),
	}
	api.On("Query", ctx, mock.Anything).Return(&dynamodb.QueryOutput{Items: items}, nil)

	got, err := repo.ListActive(ctx, 42)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Token)
}

func TestTokenDeleteAllForUser_Batches(t *testing.T) {
	api := &mockAPI{}
	repo := NewTokenRepo(api, "tokens")
	var items []map[string]types.AttributeValue
	for i := 0; i < 30; i++ {
		items = append(items, mustMarshal(t, tokenItem{Token: string(rune('a'+i%26)) + string(rune('0'+i/26)), UserID: 42}))
	}
	api.On("Query", ctx, mock.Anything).Return(&dynamodb.QueryOutput{Items: items}, nil)
	api.On("BatchWriteItem", ctx, mock.Anything).Return(&dynamodb.BatchWriteItemOutput{}, nil)

	n, err := repo.DeleteAllForUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(30), n)
	api.AssertNumberOfCalls(t, "BatchWriteItem", 2)
}

// --- topics ---

func TestTopicCreate_Duplicate(t *testing.T) {
	api := &mockAPI{}
	repo := NewTopicRepo(api, "topics", "subs")
	api.On("PutItem", ctx, mock.Anything).Return(nil, ccf())

	err := repo.Create(ctx, &domain.Topic{ID: "tp1", Name: "weather"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestTopicSubscribe_Idempotent(t *testing.T) {
	api := &mockAPI{}
	repo := NewTopicRepo(api, "topics", "subs")
	api.On("Query", ctx, mock.Anything).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		mustMarshal(t, topicItem{Name: "weather", ID: "tp1"}),
	}}, nil)
	api.On("PutItem", ctx, mock.Anything).Return(nil, ccf())

	assert.NoError(t, repo.Subscribe(ctx, 42, "tp1"))
}

func TestTopicListForUser(t *testing.T) {
	api := &mockAPI{}
	repo := NewTopicRepo(api, "topics", "subs")
	api.On("Query", ctx, mock.Anything).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		mustMarshal(t, subscriptionItem{UserID: "42", TopicID: "tp2", TopicName: "weather"}),
		mustMarshal(t, subscriptionItem{UserID: "42", TopicID: "tp1", TopicName: "market"}),
	}}, nil)
	api.On("BatchGetItem", ctx, mock.Anything).Return(&dynamodb.BatchGetItemOutput{
		Responses: map[string][]map[string]types.AttributeValue{"topics": {
			mustMarshal(t, topicItem{Name: "weather", ID: "tp2"}),
			mustMarshal(t, topicItem{Name: "market", ID: "tp1"}),
		}},
	}, nil)

	got, err := repo.ListForUser(ctx, 42)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "market", got[0].Name)
}

// --- users and content ---

func TestUserGet(t *testing.T) {
	api := &mockAPI{}
	repo := NewUserRepo(api, "users")
	tracking := int64(9)
	item := mustMarshal(t, domain.UserProfile{
		ID:                    42,
		PreferredLanguage:     "hi",
		CurrentCropTrackingID: &tracking,
		NotificationSettings: domain.NotificationSettings{
			PushNotifications: true,
			NotificationTypes: domain.NotificationToggle{DailyUpdates: true},
		},
	})
	api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{Item: item}, nil)

	u, err := repo.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "hi", u.Language())
	assert.True(t, u.NotificationSettings.WantsDailyDigest())
}

func TestWeekContent_MissingLanguage(t *testing.T) {
	api := &mockAPI{}
	repo := NewContentRepo(api, "tracking", "weeks", "crops")
	api.On("GetItem", ctx, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool { return *in.TableName == "weeks" })).
		Return(&dynamodb.GetItemOutput{Item: mustMarshal(t, weekItem{
			CropID: 3, WeekNumber: 2, ImageURLs: []string{"https://img/1.jpg"},
			Translations: map[string]weekTranslation{"hi": {Title: "बुवाई"}},
		})}, nil)
	api.On("GetItem", ctx, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool { return *in.TableName == "crops" })).
		Return(&dynamodb.GetItemOutput{Item: mustMarshal(t, cropItem{
			CropID: 3, Translations: map[string]cropTranslation{"hi": {Name: "गेहूं", Variety: "HD-2967"}},
		})}, nil)

	wc, err := repo.WeekContent(ctx, 3, 2, "hi")
	require.NoError(t, err)
	assert.Equal(t, "गेहूं", wc.CropName)
	assert.Equal(t, "https://img/1.jpg", wc.FirstImage())

	_, err = repo.WeekContent(ctx, 3, 2, "en")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
