package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkout-service/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type stagedItem struct {
	PK        string `dynamodbav:"pk"`
	Payload   string `dynamodbav:"payload"`
	Owner     string `dynamodbav:"owner"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// DynamoDBStore stages pending orders in a table keyed by "pk", with
// expires_at as the table's TTL attribute. DynamoDB deletes expired items
// lazily, so Get also checks expires_at.
type DynamoDBStore struct {
	client DynamoDBAPI
	table  string
	ttl    time.Duration
	now    func() time.Time
}

func NewDynamoDBStore(client DynamoDBAPI, table string, ttl time.Duration) *DynamoDBStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoDBStore{client: client, table: table, ttl: ttl, now: time.Now}
}

func (s *DynamoDBStore) key(txID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: stagingKey(txID)},
	}
}

func (s *DynamoDBStore) Put(ctx context.Context, txID string, order *models.PendingOrder) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal staged order: %w", err)
	}
	now := s.now()
	item, err := attributevalue.MarshalMap(stagedItem{
		PK:        stagingKey(txID),
		Payload:   string(payload),
		Owner:     order.Owner,
		ExpiresAt: now.Add(s.ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal staged item: %w", err)
	}

	// An expired item may still be present until DynamoDB's TTL sweep.
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk) OR #owner = :owner OR expires_at <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: order.Owner},
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrOwnerMismatch
	}
	if err != nil {
		return fmt.Errorf("put staged order %s: %w", txID, err)
	}
	return nil
}

func (s *DynamoDBStore) Get(ctx context.Context, txID string) (*models.PendingOrder, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(txID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get staged order %s: %w", txID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var item stagedItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode staged item %s: %w", txID, err)
	}
	if item.ExpiresAt > 0 && s.now().Unix() >= item.ExpiresAt {
		return nil, ErrNotFound
	}

	var order models.PendingOrder
	if err := json.Unmarshal([]byte(item.Payload), &order); err != nil {
		return nil, fmt.Errorf("decode staged order %s: %w", txID, err)
	}
	return &order, nil
}

func (s *DynamoDBStore) Clear(ctx context.Context, txID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(txID),
	})
	if err != nil {
		return fmt.Errorf("delete staged order %s: %w", txID, err)
	}
	return nil
}

