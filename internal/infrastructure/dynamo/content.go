package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/farmacy-notify/internal/domain"
)

type weekItem struct {
	CropID       int64                      `dynamodbav:"crop_id"`
	WeekNumber   int                        `dynamodbav:"week_number"`
	ImageURLs    []string                   `dynamodbav:"image_urls"`
	Translations map[string]weekTranslation `dynamodbav:"translations"`
}

type weekTranslation struct {
	Title string `dynamodbav:"title"`
}

type cropItem struct {
	CropID       int64                      `dynamodbav:"crop_id"`
	Translations map[string]cropTranslation `dynamodbav:"translations"`
}

type cropTranslation struct {
	Name    string `dynamodbav:"name"`
	Variety string `dynamodbav:"variety"`
}

// ContentRepo resolves crop tracking and localized week content.
type ContentRepo struct {
	client   API
	tracking string
	weeks    string
	crops    string
}

func NewContentRepo(client API, trackingTable, weeksTable, cropsTable string) *ContentRepo {
	return &ContentRepo{client: client, tracking: trackingTable, weeks: weeksTable, crops: cropsTable}
}

func (r *ContentRepo) Tracking(ctx context.Context, trackingID int64) (*domain.CropTracking, error) {
	var ct domain.CropTracking
	if err := r.getItem(ctx, r.tracking, numKey(attrTrackingID, trackingID), &ct); err != nil {
		return nil, storeErr(fmt.Sprintf("get crop tracking %d", trackingID), err)
	}
	return &ct, nil
}

// WeekContent returns the week title and crop naming in exactly language.
// Missing week, week translation or crop translation all report domain.ErrNotFound.
func (r *ContentRepo) WeekContent(ctx context.Context, cropID int64, week int, language string) (*domain.WeekContent, error) {
	var w weekItem
	key := map[string]types.AttributeValue{
		attrCropID:     num(cropID),
		attrWeekNumber: num(int64(week)),
	}
	if err := r.getItem(ctx, r.weeks, key, &w); err != nil {
		return nil, storeErr(fmt.Sprintf("get week %d of crop %d", week, cropID), err)
	}
	wt, ok := w.Translations[language]
	if !ok {
		return nil, notFound(fmt.Sprintf("week translation %q", language))
	}
	var c cropItem
	if err := r.getItem(ctx, r.crops, numKey(attrCropID, cropID), &c); err != nil {
		return nil, storeErr(fmt.Sprintf("get crop %d", cropID), err)
	}
	ctr, ok := c.Translations[language]
	if !ok {
		return nil, notFound(fmt.Sprintf("crop translation %q", language))
	}
	return &domain.WeekContent{
		CropID:      cropID,
		WeekNumber:  week,
		Language:    language,
		WeekTitle:   wt.Title,
		CropName:    ctr.Name,
		CropVariety: ctr.Variety,
		ImageURLs:   w.ImageURLs,
	}, nil
}

func (r *ContentRepo) getItem(ctx context.Context, table string, key map[string]types.AttributeValue, v interface{}) error {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       key,
	})
	if err != nil {
		return err
	}
	if out.Item == nil {
		return domain.ErrNotFound
	}
	return attributevalue.UnmarshalMap(out.Item, v)
}
