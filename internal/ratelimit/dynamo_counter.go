package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
)

// DynamoCounter is a CounterStore backed by DynamoDB atomic ADD updates,
// shared by all worker processes. Buckets expire via the table's TTL.
type DynamoCounter struct {
	client    *dynamodb.Client
	tableName string
	logger    *events.Logger
}

// NewDynamoCounter creates a DynamoDB-backed counter store.
func NewDynamoCounter(ctx context.Context, tableName, region string, logger *events.Logger) (*DynamoCounter, error) {
	if tableName == "" {
		return nil, fmt.Errorf("counter table name required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &DynamoCounter{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
		logger:    logger.WithField("component", "dynamo_counter"),
	}, nil
}

// Incr performs a single atomic increment-and-read on the window bucket.
func (c *DynamoCounter) Incr(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Expire the bucket well after its window ends; the count is meaningless
	// once the window has elapsed.
	ttl := windowStart.Add(10 * time.Minute).Unix()

	out, err := c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"counter_key": &types.AttributeValueMemberS{Value: bucketKey(key, windowStart)},
		},
		UpdateExpression: aws.String("ADD cnt :one SET expires_at = :ttl"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb update: %w", err)
	}

	return parseCount(out.Attributes)
}

// Get reads the current count for a window bucket.
func (c *DynamoCounter) Get(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"counter_key": &types.AttributeValueMemberS{Value: bucketKey(key, windowStart)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb get: %w", err)
	}
	if out.Item == nil {
		return 0, nil
	}

	return parseCount(out.Item)
}

func parseCount(attrs map[string]types.AttributeValue) (int64, error) {
	attr, ok := attrs["cnt"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("invalid counter attribute type")
	}
	n, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter value: %w", err)
	}
	return n, nil
}
