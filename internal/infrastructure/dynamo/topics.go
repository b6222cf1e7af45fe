package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/farmacy-notify/internal/domain"
)

// batchGetMax is DynamoDB's per-call key limit for BatchGetItem.
const batchGetMax = 100

type topicItem struct {
	Name        string `dynamodbav:"name"`
	ID          string `dynamodbav:"topic_id"`
	Description string `dynamodbav:"description"`
	Type        string `dynamodbav:"type"`
	IsActive    bool   `dynamodbav:"is_active"`
	CreatedAt   int64  `dynamodbav:"created_at"`
	UpdatedAt   int64  `dynamodbav:"updated_at"`
}

func (it *topicItem) toDomain() domain.Topic {
	return domain.Topic{
		ID:          it.ID,
		Name:        it.Name,
		Description: it.Description,
		Type:        it.Type,
		IsActive:    it.IsActive,
		CreatedAt:   fromMillis(it.CreatedAt),
		UpdatedAt:   fromMillis(it.UpdatedAt),
	}
}

// subscriptionItem links a user to a topic. The topic name is kept for the reverse lookup.
type subscriptionItem struct {
	UserID    string `dynamodbav:"user_id"`
	TopicID   string `dynamodbav:"topic_id"`
	TopicName string `dynamodbav:"topic_name"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

// TopicRepo stores the topic catalog (keyed by name) and user subscriptions.
type TopicRepo struct {
	client API
	topics string
	subs   string
	now    func() time.Time
}

func NewTopicRepo(client API, topicsTable, subscriptionsTable string) *TopicRepo {
	return &TopicRepo{client: client, topics: topicsTable, subs: subscriptionsTable, now: time.Now}
}

func (r *TopicRepo) Create(ctx context.Context, t *domain.Topic) error {
	item, err := attributevalue.MarshalMap(topicItem{
		Name:        t.Name,
		ID:          t.ID,
		Description: t.Description,
		Type:        t.Type,
		IsActive:    t.IsActive,
		CreatedAt:   millis(t.CreatedAt),
		UpdatedAt:   millis(t.UpdatedAt),
	})
	if err != nil {
		return storeErr("encode topic", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.topics),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#n)"),
		ExpressionAttributeNames: map[string]string{"#n": attrTopicName},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("topic %q: %w", t.Name, domain.ErrConflict)
	}
	if err != nil {
		return storeErr("create topic", err)
	}
	return nil
}

func (r *TopicRepo) GetByName(ctx context.Context, name string) (*domain.Topic, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.topics),
		Key:       strKey(attrTopicName, name),
	})
	if err != nil {
		return nil, storeErr("get topic", err)
	}
	if out.Item == nil {
		return nil, notFound("topic " + name)
	}
	var it topicItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, storeErr("decode topic", err)
	}
	t := it.toDomain()
	return &t, nil
}

// List scans the catalog and returns it ordered by name.
func (r *TopicRepo) List(ctx context.Context) ([]domain.Topic, error) {
	var items []topicItem
	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{TableName: aws.String(r.topics)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, storeErr("list topics", err)
		}
		var batch []topicItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, storeErr("decode topics", err)
		}
		items = append(items, batch...)
	}
	return sortedTopics(items), nil
}

func (r *TopicRepo) IsSubscribed(ctx context.Context, userID int64, topicID string) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.subs),
		Key:       compositeKey(attrUserID, strconv.FormatInt(userID, 10), attrTopicID, topicID),
	})
	if err != nil {
		return false, storeErr("check subscription", err)
	}
	return out.Item != nil, nil
}

// Subscribe records the link. An existing link is left untouched.
func (r *TopicRepo) Subscribe(ctx context.Context, userID int64, topicID string) error {
	name, err := r.topicNameByID(ctx, topicID)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(subscriptionItem{
		UserID:    strconv.FormatInt(userID, 10),
		TopicID:   topicID,
		TopicName: name,
		CreatedAt: millis(r.now()),
	})
	if err != nil {
		return storeErr("encode subscription", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.subs),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#tid)"),
		ExpressionAttributeNames: map[string]string{"#tid": attrTopicID},
	})
	if err != nil && !isConditionFailed(err) {
		return storeErr("subscribe", err)
	}
	return nil
}

func (r *TopicRepo) Unsubscribe(ctx context.Context, userID int64, topicID string) (bool, error) {
	out, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.subs),
		Key:          compositeKey(attrUserID, strconv.FormatInt(userID, 10), attrTopicID, topicID),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, storeErr("unsubscribe", err)
	}
	return len(out.Attributes) > 0, nil
}

// ListForUser resolves the user's subscriptions to topics, ordered by name.
func (r *TopicRepo) ListForUser(ctx context.Context, userID int64) ([]domain.Topic, error) {
	var names []string
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.subs),
		KeyConditionExpression:    aws.String("#uid = :uid"),
		ExpressionAttributeNames:  map[string]string{"#uid": attrUserID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":uid": &types.AttributeValueMemberS{Value: strconv.FormatInt(userID, 10)}},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, storeErr("list subscriptions", err)
		}
		var batch []subscriptionItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, storeErr("decode subscriptions", err)
		}
		for _, s := range batch {
			names = append(names, s.TopicName)
		}
	}

	var items []topicItem
	for start := 0; start < len(names); start += batchGetMax {
		end := min(start+batchGetMax, len(names))
		batch, err := r.batchGetTopics(ctx, names[start:end])
		if err != nil {
			return nil, storeErr("load subscribed topics", err)
		}
		items = append(items, batch...)
	}
	return sortedTopics(items), nil
}

func (r *TopicRepo) batchGetTopics(ctx context.Context, names []string) ([]topicItem, error) {
	keys := make([]map[string]types.AttributeValue, 0, len(names))
	for _, n := range names {
		keys = append(keys, strKey(attrTopicName, n))
	}
	req := map[string]types.KeysAndAttributes{r.topics: {Keys: keys}}
	var items []topicItem
	for try := 0; try < batchRetries && len(req) > 0; try++ {
		out, err := r.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: req})
		if err != nil {
			return nil, err
		}
		var batch []topicItem
		if err := attributevalue.UnmarshalListOfMaps(out.Responses[r.topics], &batch); err != nil {
			return nil, err
		}
		items = append(items, batch...)
		req = out.UnprocessedKeys
	}
	if len(req) > 0 {
		return nil, fmt.Errorf("%d topic keys left unprocessed", len(req[r.topics].Keys))
	}
	return items, nil
}

// topicNameByID resolves a topic id through the topic_id GSI.
func (r *TopicRepo) topicNameByID(ctx context.Context, topicID string) (string, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.topics),
		IndexName:                 aws.String(indexTopicID),
		KeyConditionExpression:    aws.String("#tid = :tid"),
		ExpressionAttributeNames:  map[string]string{"#tid": attrTopicID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":tid": &types.AttributeValueMemberS{Value: topicID}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return "", storeErr("lookup topic", err)
	}
	if len(out.Items) == 0 {
		return "", notFound("topic " + topicID)
	}
	var it topicItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &it); err != nil {
		return "", storeErr("decode topic", err)
	}
	return it.Name, nil
}

func sortedTopics(items []topicItem) []domain.Topic {
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	out := make([]domain.Topic, 0, len(items))
	for i := range items {
		out = append(out, items[i].toDomain())
	}
	return out
}
