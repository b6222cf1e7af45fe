package dynamo

import (
	"context"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/farmacy-notify/internal/domain"
)

// UserRepo reads notification preferences from the users table. The table is owned elsewhere.
type UserRepo struct {
	client    API
	tableName string
}

func NewUserRepo(client API, tableName string) *UserRepo {
	return &UserRepo{client: client, tableName: tableName}
}

func (r *UserRepo) Get(ctx context.Context, userID int64) (*domain.UserProfile, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       numKey(attrUserID, userID),
	})
	if err != nil {
		return nil, storeErr("get user", err)
	}
	if out.Item == nil {
		return nil, notFound("user " + strconv.FormatInt(userID, 10))
	}
	var u domain.UserProfile
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, storeErr("decode user", err)
	}
	return &u, nil
}

// ListWithCropTracking scans for users that have a current crop selection, in id order.
func (r *UserRepo) ListWithCropTracking(ctx context.Context) ([]domain.UserProfile, error) {
	var out []domain.UserProfile
	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                aws.String(r.tableName),
		FilterExpression:         aws.String("attribute_exists(#ct)"),
		ExpressionAttributeNames: map[string]string{"#ct": "current_crop_tracking_id"},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, storeErr("list tracked users", err)
		}
		var batch []domain.UserProfile
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, storeErr("decode users", err)
		}
		out = append(out, batch...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
