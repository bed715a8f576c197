// Package catalog records sealed capsule sets in a remote table, so a set
// produced on one host can be looked up by id from another without shipping
// the metadata sidecar out of band. It is never consulted on the read path
// of a local extract; it exists purely as an optional, best-effort index.
package catalog

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

// Entry is the catalog's record of one sealed set: enough to locate and
// validate it without re-reading the sidecar.
type Entry struct {
	ID16              string  `json:"id16" dynamodbav:"id16"`
	FullID            string  `json:"fullId" dynamodbav:"full_id"`
	OriginalSize      int64   `json:"originalSize" dynamodbav:"original_size"`
	CapsuleCount      int     `json:"capsuleCount" dynamodbav:"capsule_count"`
	ConsensusVersion  string  `json:"consensusVersion" dynamodbav:"consensus_version"`
	ChunkingAlgorithm string  `json:"chunkingAlgorithm" dynamodbav:"chunking_algorithm"`
	MirrorLocation    *string `json:"mirrorLocation,omitempty" dynamodbav:"mirror_location,omitempty"`
}

// Catalog records and looks up sealed sets by their 16-hex-char id prefix.
// Lookup's bool return is false, with a nil error, for a well-formed query
// that simply found no entry — only a transport or decode failure is an
// error.
type Catalog interface {
	Record(ctx context.Context, entry Entry) error
	Lookup(ctx context.Context, id16 string) (Entry, bool, error)
}

// DynamoCatalog implements Catalog against a DynamoDB table, bootstrapping
// the table on first use.
type DynamoCatalog struct {
	client *dynamodb.Client
}

// NewDynamoCatalog wraps client, ensuring the catalog table exists.
func NewDynamoCatalog(ctx context.Context, client *dynamodb.Client) (*DynamoCatalog, error) {
	if err := bootstrap(ctx, client); err != nil {
		return nil, fmt.Errorf("catalog: bootstrap table: %w", err)
	}
	return &DynamoCatalog{client: client}, nil
}

func (c *DynamoCatalog) Record(ctx context.Context, entry Entry) error {
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("catalog: marshal entry: %w", err)
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      item,
	})
	if err != nil {
		log.WithError(err).WithField("id16", entry.ID16).Warn("catalog: record failed")
		return fmt.Errorf("catalog: put item: %w", err)
	}
	return nil
}

func (c *DynamoCatalog) Lookup(ctx context.Context, id16 string) (Entry, bool, error) {
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key: map[string]types.AttributeValue{
			"id16": &types.AttributeValueMemberS{Value: id16},
		},
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("catalog: get item: %w", err)
	}
	if out.Item == nil {
		return Entry{}, false, nil
	}

	var entry Entry
	if err := attributevalue.UnmarshalMap(out.Item, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("catalog: unmarshal entry: %w", err)
	}
	return entry, true, nil
}

// Bootstrap and Teardown expose the migration pair. Teardown backs the
// catalog-teardown CLI command; Bootstrap performs the same table creation
// NewDynamoCatalog runs.
func Bootstrap(ctx context.Context, client *dynamodb.Client) error { return bootstrap(ctx, client) }
func Teardown(ctx context.Context, client *dynamodb.Client) error  { return teardown(ctx, client) }

var _ Catalog = (*DynamoCatalog)(nil)
