package dynamo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/farmacy-notify/internal/domain"
	"github.com/farmacy-notify/internal/pkg/id"
)

const (
	upsertAttempts = 3
	// batchWriteMax is DynamoDB's per-call item limit for BatchWriteItem.
	batchWriteMax = 25
	batchRetries  = 5
)

// tokenItem is keyed by the token itself, so one token has at most one owner.
type tokenItem struct {
	Token      string `dynamodbav:"token"`
	ID         string `dynamodbav:"device_token_id"`
	UserID     int64  `dynamodbav:"user_id"`
	DeviceType string `dynamodbav:"device_type"`
	IsActive   bool   `dynamodbav:"is_active"`
	CreatedAt  int64  `dynamodbav:"created_at"`
	LastUsedAt int64  `dynamodbav:"last_used_at"`
}

func (it *tokenItem) toDomain() domain.DeviceToken {
	return domain.DeviceToken{
		ID:         it.ID,
		UserID:     it.UserID,
		Token:      it.Token,
		DeviceType: it.DeviceType,
		IsActive:   it.IsActive,
		CreatedAt:  fromMillis(it.CreatedAt),
		LastUsedAt: fromMillis(it.LastUsedAt),
	}
}

// TokenRepo stores FCM registration tokens.
type TokenRepo struct {
	client    API
	tableName string
}

func NewTokenRepo(client API, tableName string) *TokenRepo {
	return &TokenRepo{client: client, tableName: tableName}
}

func (r *TokenRepo) get(ctx context.Context, token string) (*tokenItem, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(attrToken, token),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	var it tokenItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

// Upsert refreshes the item when userID already owns token, otherwise replaces any other
// owner's item. Each write is conditioned on the owner read just before it.
func (r *TokenRepo) Upsert(ctx context.Context, userID int64, token, deviceType string, now time.Time) (*domain.DeviceToken, error) {
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		existing, err := r.get(ctx, token)
		if err != nil {
			return nil, storeErr("register device token", err)
		}
		var it tokenItem
		if existing != nil && existing.UserID == userID {
			it, err = r.refresh(ctx, existing, deviceType, now)
		} else {
			it, err = r.replace(ctx, existing, userID, token, deviceType, now)
		}
		if isConditionFailed(err) {
			continue
		}
		if err != nil {
			return nil, storeErr("register device token", err)
		}
		dt := it.toDomain()
		return &dt, nil
	}
	return nil, storeErr("register device token", fmt.Errorf("token changed owner concurrently"))
}

func (r *TokenRepo) refresh(ctx context.Context, existing *tokenItem, deviceType string, now time.Time) (tokenItem, error) {
	if deviceType == "" {
		deviceType = existing.DeviceType
	}
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(attrToken, existing.Token),
		UpdateExpression:    aws.String("SET #dt = :dt, #active = :true, #used = :now"),
		ConditionExpression: aws.String("#uid = :uid"),
		ExpressionAttributeNames: map[string]string{
			"#dt": "device_type", "#active": "is_active", "#used": "last_used_at", "#uid": attrUserID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":dt":   &types.AttributeValueMemberS{Value: deviceType},
			":true": &types.AttributeValueMemberBOOL{Value: true},
			":now":  num(millis(now)),
			":uid":  num(existing.UserID),
		},
	})
	if err != nil {
		return tokenItem{}, err
	}
	it := *existing
	it.DeviceType = deviceType
	it.IsActive = true
	it.LastUsedAt = millis(now)
	return it, nil
}

func (r *TokenRepo) replace(ctx context.Context, existing *tokenItem, userID int64, token, deviceType string, now time.Time) (tokenItem, error) {
	it := tokenItem{
		Token:      token,
		ID:         id.New(),
		UserID:     userID,
		DeviceType: deviceType,
		IsActive:   true,
		CreatedAt:  millis(now),
		LastUsedAt: millis(now),
	}
	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return tokenItem{}, err
	}
	in := &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ExpressionAttributeNames: map[string]string{"#tok": attrToken},
	}
	if existing == nil {
		in.ConditionExpression = aws.String("attribute_not_exists(#tok)")
	} else {
		in.ConditionExpression = aws.String("#uid = :prev")
		in.ExpressionAttributeNames = map[string]string{"#uid": attrUserID}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":prev": num(existing.UserID)}
	}
	_, err = r.client.PutItem(ctx, in)
	return it, err
}

// Delete removes one (user, token) pair and reports whether an item went away.
func (r *TokenRepo) Delete(ctx context.Context, userID int64, token string) (bool, error) {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(attrToken, token),
		ConditionExpression:       aws.String("#uid = :uid"),
		ExpressionAttributeNames:  map[string]string{"#uid": attrUserID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":uid": num(userID)},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("delete device token", err)
	}
	return true, nil
}

// DeleteByToken drops a token regardless of owner. Used when the provider reports it unregistered.
func (r *TokenRepo) DeleteByToken(ctx context.Context, token string) (bool, error) {
	out, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.tableName),
		Key:          strKey(attrToken, token),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, storeErr("delete invalid device token", err)
	}
	return len(out.Attributes) > 0, nil
}

func (r *TokenRepo) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	items, err := r.listByUser(ctx, userID, false)
	if err != nil {
		return 0, storeErr("delete user device tokens", err)
	}
	var deleted int64
	for start := 0; start < len(items); start += batchWriteMax {
		end := min(start+batchWriteMax, len(items))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, it := range items[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: strKey(attrToken, it.Token)}})
		}
		if err := r.batchWrite(ctx, reqs); err != nil {
			return deleted, storeErr("delete user device tokens", err)
		}
		deleted += int64(len(reqs))
	}
	return deleted, nil
}

func (r *TokenRepo) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{r.tableName: reqs}
	for try := 0; try < batchRetries && len(pending[r.tableName]) > 0; try++ {
		if try > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(try*50) * time.Millisecond):
			}
		}
		out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		pending = out.UnprocessedItems
	}
	if n := len(pending[r.tableName]); n > 0 {
		return fmt.Errorf("%d deletes left unprocessed", n)
	}
	return nil
}

// ListActive returns the user's active tokens, most recently used first.
func (r *TokenRepo) ListActive(ctx context.Context, userID int64) ([]domain.DeviceToken, error) {
	items, err := r.listByUser(ctx, userID, true)
	if err != nil {
		return nil, storeErr("list device tokens", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].LastUsedAt != items[j].LastUsedAt {
			return items[i].LastUsedAt > items[j].LastUsedAt
		}
		return items[i].CreatedAt > items[j].CreatedAt
	})
	out := make([]domain.DeviceToken, 0, len(items))
	for i := range items {
		out = append(out, items[i].toDomain())
	}
	return out, nil
}

func (r *TokenRepo) listByUser(ctx context.Context, userID int64, activeOnly bool) ([]tokenItem, error) {
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexTokenUser),
		KeyConditionExpression:    aws.String("#uid = :uid"),
		ExpressionAttributeNames:  map[string]string{"#uid": attrUserID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":uid": num(userID)},
	}
	if activeOnly {
		in.FilterExpression = aws.String("#active = :true")
		in.ExpressionAttributeNames["#active"] = "is_active"
		in.ExpressionAttributeValues[":true"] = &types.AttributeValueMemberBOOL{Value: true}
	}
	var items []tokenItem
	p := dynamodb.NewQueryPaginator(r.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var batch []tokenItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	return items, nil
}
