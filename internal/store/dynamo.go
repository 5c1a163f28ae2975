package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

const (
	pkPrefix     = "USER#"
	skAnalysis   = "ANALYSIS#"
	ttlAttribute = "expiresAt"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements HistoryStore on DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	retention time.Duration
}

// NewDynamoStore creates a DynamoStore. A positive retention sets the TTL
// attribute so DynamoDB expires old records.
func NewDynamoStore(client DynamoAPI, tableName string, retention time.Duration) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, retention: retention}
}

func userPK(userID string) string {
	return pkPrefix + userID
}

// recordSK sorts lexicographically in creation order.
func recordSK(r *Record) string {
	return fmt.Sprintf("%s%013d#%s", skAnalysis, r.CreatedAt.UnixMilli(), r.ID)
}

// PutRecord stores record under its owner's partition.
func (s *DynamoStore) PutRecord(ctx context.Context, record *Record) error {
	if err := record.validate(); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	pk, sk := userPK(record.UserID), recordSK(record)
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	if s.retention > 0 {
		expires := record.CreatedAt.Add(s.retention).Unix()
		item[ttlAttribute] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)}
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}

	log.Debug().Str("pk", pk).Str("sk", sk).Msg("History record stored")
	return nil
}

// ListRecords queries the user's partition in reverse sort-key order.
func (s *DynamoStore) ListRecords(ctx context.Context, userID string, limit int) ([]*Record, error) {
	pk := userPK(userID)
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
			":sk": &types.AttributeValueMemberS{Value: skAnalysis},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	var records []*Record
	// DynamoDB returns at most 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s: %w", pk, err)
		}
		for _, item := range result.Items {
			var r Record
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				return nil, fmt.Errorf("unmarshal record: %w", err)
			}
			records = append(records, &r)
		}

		if result.LastEvaluatedKey == nil || (limit > 0 && len(records) >= limit) {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
