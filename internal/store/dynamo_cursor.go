package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

// DynamoCursorStore implements CursorStore on a DynamoDB table keyed by
// user_id. The status attribute is stored alongside the marshaled cursor so
// conditional writes can guard on it without parsing JSON.
type DynamoCursorStore struct {
	client    *dynamodb.Client
	tableName string
	logger    *events.Logger
}

// NewDynamoCursorStore creates a cursor store on the named table.
func NewDynamoCursorStore(ctx context.Context, tableName, region string, logger *events.Logger) (*DynamoCursorStore, error) {
	if tableName == "" {
		return nil, fmt.Errorf("cursor table name required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &DynamoCursorStore{
		client:    dynamodb.NewFromConfig(awsCfg),
		tableName: tableName,
		logger:    logger.WithField("component", "dynamo_cursor_store"),
	}, nil
}

// ReadCursor loads a user's sync cursor.
func (s *DynamoCursorStore) ReadCursor(ctx context.Context, userID string) (*models.SyncCursor, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, &models.TransientError{Op: "datastore", Err: fmt.Errorf("dynamodb get cursor: %w", err)}
	}

	if result.Item == nil {
		return nil, models.ErrCursorNotFound
	}

	attr, ok := result.Item["cursor_data"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("invalid cursor attribute type")
	}

	var cursor models.SyncCursor
	if err := json.Unmarshal([]byte(attr.Value), &cursor); err != nil {
		return nil, fmt.Errorf("unmarshal cursor: %w", err)
	}

	return &cursor, nil
}

// CASWriteCursor writes the cursor only if the stored status attribute is one
// of expected. A missing item counts as idle, so first-ever claims go through
// the same conditional write as every later transition.
func (s *DynamoCursorStore) CASWriteCursor(ctx context.Context, userID string, expected []models.SyncStatus, cursor *models.SyncCursor) error {
	cursorJSON, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	var conds []string
	values := map[string]types.AttributeValue{}
	for i, st := range expected {
		if st == models.StatusIdle {
			conds = append(conds, "attribute_not_exists(user_id)")
		}
		ph := fmt.Sprintf(":s%d", i)
		conds = append(conds, "#st = "+ph)
		values[ph] = &types.AttributeValueMemberS{Value: string(st)}
	}

	values[":cursor"] = &types.AttributeValueMemberS{Value: string(cursorJSON)}
	values[":status"] = &types.AttributeValueMemberS{Value: string(cursor.Status)}
	values[":updated_at"] = &types.AttributeValueMemberN{
		Value: fmt.Sprintf("%d", time.Now().Unix()),
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression:          aws.String("SET cursor_data = :cursor, #st = :status, updated_at = :updated_at"),
		ConditionExpression:       aws.String(strings.Join(conds, " OR ")),
		ExpressionAttributeNames:  map[string]string{"#st": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return models.ErrCursorConflict
		}
		return &models.TransientError{Op: "datastore", Err: fmt.Errorf("dynamodb write cursor: %w", err)}
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"status":  cursor.Status,
	}).Debug("Wrote cursor")

	return nil
}
