package dynamo

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/farmacy-notify/internal/config"
	"github.com/sirupsen/logrus"
)

type tableCreator interface {
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Bootstrap creates the engine's tables and GSIs if they don't already exist.
// The users and crop content tables are created too so a local stack is usable;
// in production they already exist and are skipped.
func Bootstrap(ctx context.Context, client tableCreator, tables config.DynamoTables, log logrus.FieldLogger) {
	for _, in := range tableDefinitions(tables) {
		createTable(ctx, client, in, log)
	}
}

func tableDefinitions(tables config.DynamoTables) []*dynamodb.CreateTableInput {
	return []*dynamodb.CreateTableInput{
		{
			TableName:   aws.String(tables.Notifications),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				attrDef(attrNotificationID, types.ScalarAttributeTypeS),
				attrDef(attrUserID, types.ScalarAttributeTypeN),
				attrDef(attrCreatedAt, types.ScalarAttributeTypeN),
				attrDef(attrPending, types.ScalarAttributeTypeS),
				attrDef(attrDueAt, types.ScalarAttributeTypeN),
			},
			KeySchema: hashKey(attrNotificationID),
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				gsi(indexUserCreated, attrUserID, attrCreatedAt),
				gsi(indexPendingDue, attrPending, attrDueAt),
			},
		},
		{
			TableName:   aws.String(tables.DeviceTokens),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				attrDef(attrToken, types.ScalarAttributeTypeS),
				attrDef(attrUserID, types.ScalarAttributeTypeN),
			},
			KeySchema:              hashKey(attrToken),
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{gsi(indexTokenUser, attrUserID, "")},
		},
		{
			TableName:   aws.String(tables.Topics),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				attrDef(attrTopicName, types.ScalarAttributeTypeS),
				attrDef(attrTopicID, types.ScalarAttributeTypeS),
			},
			KeySchema:              hashKey(attrTopicName),
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{gsi(indexTopicID, attrTopicID, "")},
		},
		{
			TableName:   aws.String(tables.Subscriptions),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				attrDef(attrUserID, types.ScalarAttributeTypeS),
				attrDef(attrTopicID, types.ScalarAttributeTypeS),
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrUserID), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(attrTopicID), KeyType: types.KeyTypeRange},
			},
		},
		{
			TableName:            aws.String(tables.Users),
			BillingMode:          types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{attrDef(attrUserID, types.ScalarAttributeTypeN)},
			KeySchema:            hashKey(attrUserID),
		},
		{
			TableName:            aws.String(tables.CropTracking),
			BillingMode:          types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{attrDef(attrTrackingID, types.ScalarAttributeTypeN)},
			KeySchema:            hashKey(attrTrackingID),
		},
		{
			TableName:   aws.String(tables.CropWeeks),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				attrDef(attrCropID, types.ScalarAttributeTypeN),
				attrDef(attrWeekNumber, types.ScalarAttributeTypeN),
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrCropID), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(attrWeekNumber), KeyType: types.KeyTypeRange},
			},
		},
		{
			TableName:            aws.String(tables.Crops),
			BillingMode:          types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{attrDef(attrCropID, types.ScalarAttributeTypeN)},
			KeySchema:            hashKey(attrCropID),
		},
	}
}

func attrDef(name string, t types.ScalarAttributeType) types.AttributeDefinition {
	return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: t}
}

func hashKey(name string) []types.KeySchemaElement {
	return []types.KeySchemaElement{{AttributeName: aws.String(name), KeyType: types.KeyTypeHash}}
}

// gsi builds a GSI descriptor. If sortAttr is empty, only a hash key is added.
func gsi(indexName, hashAttr, sortAttr string) types.GlobalSecondaryIndex {
	ks := hashKey(hashAttr)
	if sortAttr != "" {
		ks = append(ks, types.KeySchemaElement{
			AttributeName: aws.String(sortAttr), KeyType: types.KeyTypeRange,
		})
	}
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(indexName),
		KeySchema:  ks,
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func createTable(ctx context.Context, client tableCreator, input *dynamodb.CreateTableInput, log logrus.FieldLogger) {
	_, err := client.CreateTable(ctx, input)
	if err != nil {
		// ResourceInUseException means the table already exists.
		var riue *types.ResourceInUseException
		if !errors.As(err, &riue) {
			log.WithError(err).WithField("table", *input.TableName).Warn("could not create table")
		}
		return
	}
	log.WithField("table", *input.TableName).Info("created table")
}
