package catalog

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	tableName     = "digcap_sets"
	tableVersion  = "20260101000000_digcap_sets_table"
	waitForActive = 5 * time.Minute
)

// bootstrap creates the sets table if it does not already exist, mirroring
// the single-migration-file pattern used for other DynamoDB-backed tables
// in this codebase: a fixed Up/Down pair keyed by a version tag.
func bootstrap(ctx context.Context, client *dynamodb.Client) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	if err == nil {
		return nil
	}

	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id16"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id16"), KeyType: types.KeyTypeHash},
		},
		TableName:   aws.String(tableName),
		BillingMode: types.BillingModePayPerRequest,
		Tags: []types.Tag{
			{Key: aws.String("Purpose"), Value: aws.String("CapsuleSetCatalog")},
			{Key: aws.String("Version"), Value: aws.String(tableVersion)},
		},
	}

	if _, err := client.CreateTable(ctx, input); err != nil {
		return err
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, waitForActive)
}

// teardown deletes the sets table. Used by the catalog-teardown CLI
// command.
func teardown(ctx context.Context, client *dynamodb.Client) error {
	_, err := client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(tableName)})
	return err
}
