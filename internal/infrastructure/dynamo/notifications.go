package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/farmacy-notify/internal/domain"
)

// notificationItem is the stored shape. Unsent, unfailed items carry the sparse
// pending attribute so the due sweep reads a GSI instead of scanning the table.
type notificationItem struct {
	ID            string         `dynamodbav:"notification_id"`
	UserID        int64          `dynamodbav:"user_id"`
	Type          string         `dynamodbav:"type"`
	Priority      string         `dynamodbav:"priority"`
	Title         string         `dynamodbav:"title"`
	Message       string         `dynamodbav:"message"`
	Data          map[string]any `dynamodbav:"data,omitempty"`
	AllDevices    bool           `dynamodbav:"all_devices"`
	IsRead        bool           `dynamodbav:"is_read"`
	ReadAt        *int64         `dynamodbav:"read_at,omitempty"`
	CreatedAt     int64          `dynamodbav:"created_at"`
	ScheduledFor  *int64         `dynamodbav:"scheduled_for,omitempty"`
	SentAt        *int64         `dynamodbav:"sent_at,omitempty"`
	RetryCount    int            `dynamodbav:"retry_count"`
	NextAttemptAt *int64         `dynamodbav:"next_attempt_at,omitempty"`
	FailedAt      *int64         `dynamodbav:"failed_at,omitempty"`
	LastError     string         `dynamodbav:"last_error,omitempty"`
	ClaimedUntil  *int64         `dynamodbav:"claimed_until,omitempty"`
	Pending       string         `dynamodbav:"pending,omitempty"`
	DueAt         int64          `dynamodbav:"due_at"`
}

func toNotificationItem(n *domain.Notification) notificationItem {
	it := notificationItem{
		ID:            n.ID,
		UserID:        n.UserID,
		Type:          string(n.Type),
		Priority:      string(n.Priority),
		Title:         n.Title,
		Message:       n.Message,
		Data:          n.Data,
		AllDevices:    n.AllDevices,
		IsRead:        n.IsRead,
		ReadAt:        millisPtr(n.ReadAt),
		CreatedAt:     millis(n.CreatedAt),
		ScheduledFor:  millisPtr(n.ScheduledFor),
		SentAt:        millisPtr(n.SentAt),
		RetryCount:    n.RetryCount,
		NextAttemptAt: millisPtr(n.NextAttemptAt),
		FailedAt:      millisPtr(n.FailedAt),
		LastError:     n.LastError,
	}
	it.DueAt = it.CreatedAt
	if it.ScheduledFor != nil {
		it.DueAt = *it.ScheduledFor
	}
	if it.NextAttemptAt != nil && *it.NextAttemptAt > it.DueAt {
		it.DueAt = *it.NextAttemptAt
	}
	if it.SentAt == nil && it.FailedAt == nil {
		it.Pending = pendingMarker
	}
	return it
}

func (it *notificationItem) toDomain() domain.Notification {
	return domain.Notification{
		ID:            it.ID,
		UserID:        it.UserID,
		Type:          domain.NotificationType(it.Type),
		Priority:      domain.Priority(it.Priority),
		Title:         it.Title,
		Message:       it.Message,
		Data:          it.Data,
		AllDevices:    it.AllDevices,
		IsRead:        it.IsRead,
		ReadAt:        fromMillisPtr(it.ReadAt),
		CreatedAt:     fromMillis(it.CreatedAt),
		ScheduledFor:  fromMillisPtr(it.ScheduledFor),
		SentAt:        fromMillisPtr(it.SentAt),
		RetryCount:    it.RetryCount,
		NextAttemptAt: fromMillisPtr(it.NextAttemptAt),
		FailedAt:      fromMillisPtr(it.FailedAt),
		LastError:     it.LastError,
	}
}

// NotificationRepo provides typed DynamoDB operations for the notifications table.
type NotificationRepo struct {
	client    API
	tableName string
}

func NewNotificationRepo(client API, tableName string) *NotificationRepo {
	return &NotificationRepo{client: client, tableName: tableName}
}

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	item, err := attributevalue.MarshalMap(toNotificationItem(n))
	if err != nil {
		return storeErr("encode notification", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": attrNotificationID},
	})
	if isConditionFailed(err) {
		return storeErr("create notification", fmt.Errorf("id %s: %w", n.ID, domain.ErrConflict))
	}
	if err != nil {
		return storeErr("create notification", err)
	}
	return nil
}

func (r *NotificationRepo) Get(ctx context.Context, id string) (*domain.Notification, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(attrNotificationID, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, storeErr("get notification", err)
	}
	if out.Item == nil {
		return nil, notFound("notification " + id)
	}
	var it notificationItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, storeErr("decode notification", err)
	}
	n := it.toDomain()
	return &n, nil
}

// ListByUser queries the user_id-created_at GSI newest first, applying filters and skip/limit client-side.
func (r *NotificationRepo) ListByUser(ctx context.Context, userID int64, f domain.NotificationFilter) ([]domain.Notification, error) {
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexUserCreated),
		KeyConditionExpression:    aws.String("#uid = :uid"),
		ExpressionAttributeNames:  map[string]string{"#uid": attrUserID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":uid": num(userID)},
		ScanIndexForward:          aws.Bool(false),
	}
	var filters []string
	if f.Type != "" {
		filters = append(filters, "#type = :type")
		in.ExpressionAttributeNames["#type"] = "type"
		in.ExpressionAttributeValues[":type"] = &types.AttributeValueMemberS{Value: string(f.Type)}
	}
	if f.UnreadOnly {
		filters = append(filters, "#read = :false")
		in.ExpressionAttributeNames["#read"] = "is_read"
		in.ExpressionAttributeValues[":false"] = &types.AttributeValueMemberBOOL{Value: false}
	}
	if len(filters) > 0 {
		expr := filters[0]
		for _, c := range filters[1:] {
			expr += " AND " + c
		}
		in.FilterExpression = aws.String(expr)
	}

	out := make([]domain.Notification, 0)
	skipped := 0
	p := dynamodb.NewQueryPaginator(r.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, storeErr("list notifications", err)
		}
		var items []notificationItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, storeErr("decode notifications", err)
		}
		for i := range items {
			if skipped < f.Skip {
				skipped++
				continue
			}
			out = append(out, items[i].toDomain())
			if f.Limit > 0 && len(out) == f.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// ListDue reads the sparse pending index up to now, oldest due first, skipping live claims.
func (r *NotificationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	nowMs := millis(now)
	in := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexPendingDue),
		KeyConditionExpression: aws.String("#p = :p AND #due <= :now"),
		FilterExpression:       aws.String("attribute_not_exists(#claim) OR #claim < :now"),
		ExpressionAttributeNames: map[string]string{
			"#p": attrPending, "#due": attrDueAt, "#claim": "claimed_until",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":   &types.AttributeValueMemberS{Value: pendingMarker},
			":now": num(nowMs),
		},
		ScanIndexForward: aws.Bool(true),
	}
	out := make([]domain.Notification, 0, limit)
	p := dynamodb.NewQueryPaginator(r.client, in)
	for p.HasMorePages() && len(out) < limit {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, storeErr("list due notifications", err)
		}
		var items []notificationItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, storeErr("decode notifications", err)
		}
		for i := range items {
			n := items[i].toDomain()
			// the index is eventually consistent; re-check the full predicate
			if !n.IsDue(now) {
				continue
			}
			out = append(out, n)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Claim leases an unsent notification to the caller until now+lease.
// It reports false when another worker holds a live claim or the item was already sent.
func (r *NotificationRepo) Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              strKey(attrNotificationID, id),
		UpdateExpression: aws.String("SET #claim = :until"),
		ConditionExpression: aws.String("attribute_exists(#id) AND attribute_not_exists(#sent) AND attribute_not_exists(#failed) " +
			"AND (attribute_not_exists(#claim) OR #claim < :now)"),
		ExpressionAttributeNames: map[string]string{
			"#id": attrNotificationID, "#sent": "sent_at", "#failed": "failed_at", "#claim": "claimed_until",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":until": num(millis(now.Add(lease))),
			":now":   num(millis(now)),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("claim notification", err)
	}
	return true, nil
}

// MarkSent sets sent_at only while it is absent, so concurrent callers count one success.
func (r *NotificationRepo) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(attrNotificationID, id),
		UpdateExpression:    aws.String("SET #sent = :at REMOVE #claim, #p, #err"),
		ConditionExpression: aws.String("attribute_exists(#id) AND attribute_not_exists(#sent)"),
		ExpressionAttributeNames: map[string]string{
			"#id": attrNotificationID, "#sent": "sent_at", "#claim": "claimed_until",
			"#p": attrPending, "#err": "last_error",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{":at": num(millis(at))},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("mark notification sent", err)
	}
	return true, nil
}

// RecordFailure stores retry bookkeeping and releases the claim. A terminal failure leaves the pending index.
func (r *NotificationRepo) RecordFailure(ctx context.Context, id string, f domain.DeliveryFailure) error {
	names := map[string]string{
		"#sent": "sent_at", "#retry": "retry_count", "#err": "last_error", "#claim": "claimed_until",
	}
	values := map[string]types.AttributeValue{
		":retry": num(int64(f.RetryCount)),
		":err":   &types.AttributeValueMemberS{Value: truncate(f.Reason, 500)},
	}
	set := "SET #retry = :retry, #err = :err"
	remove := " REMOVE #claim"
	if f.NextAttemptAt != nil {
		names["#next"], names["#due"] = "next_attempt_at", attrDueAt
		values[":next"] = num(millis(*f.NextAttemptAt))
		set += ", #next = :next, #due = :next"
	}
	if f.FailedAt != nil {
		names["#failed"], names["#p"] = "failed_at", attrPending
		values[":failed"] = num(millis(*f.FailedAt))
		set += ", #failed = :failed"
		remove += ", #p"
		if f.NextAttemptAt == nil {
			names["#next"] = "next_attempt_at"
			remove += ", #next"
		}
	}
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(attrNotificationID, id),
		UpdateExpression:          aws.String(set + remove),
		ConditionExpression:       aws.String("attribute_not_exists(#sent)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if isConditionFailed(err) {
		// sent in the meantime; nothing to record
		return nil
	}
	if err != nil {
		return storeErr("record delivery failure", err)
	}
	return nil
}

// MarkRead flags one notification as read when it belongs to userID. Already read counts as success.
func (r *NotificationRepo) MarkRead(ctx context.Context, id string, userID int64, at time.Time) (bool, error) {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(attrNotificationID, id),
		UpdateExpression:    aws.String("SET #read = :true, #readAt = if_not_exists(#readAt, :at)"),
		ConditionExpression: aws.String("attribute_exists(#id) AND #uid = :uid"),
		ExpressionAttributeNames: map[string]string{
			"#id": attrNotificationID, "#uid": attrUserID, "#read": "is_read", "#readAt": "read_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
			":at":   num(millis(at)),
			":uid":  num(userID),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("mark notification read", err)
	}
	return true, nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	unread, err := r.ListByUser(ctx, userID, domain.NotificationFilter{UnreadOnly: true})
	if err != nil {
		return 0, err
	}
	var n int64
	for i := range unread {
		_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(r.tableName),
			Key:                 strKey(attrNotificationID, unread[i].ID),
			UpdateExpression:    aws.String("SET #read = :true, #readAt = :at"),
			ConditionExpression: aws.String("#read = :false"),
			ExpressionAttributeNames: map[string]string{
				"#read": "is_read", "#readAt": "read_at",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":true":  &types.AttributeValueMemberBOOL{Value: true},
				":false": &types.AttributeValueMemberBOOL{Value: false},
				":at":    num(millis(at)),
			},
		})
		if isConditionFailed(err) {
			continue
		}
		if err != nil {
			return n, storeErr("mark all notifications read", err)
		}
		n++
	}
	return n, nil
}
