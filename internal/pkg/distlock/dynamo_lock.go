package distlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// lockItem is stored in a PK/SK table. expires_at doubles as the table TTL
// attribute so abandoned locks are eventually deleted.
type lockItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Owner     string `dynamodbav:"owner"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// DynamoLock implements DistLock with a conditional PutItem, for hosts that
// have AWS credentials but no Redis.
type DynamoLock struct {
	client dynamoAPI
	table  string
	key    string
	owner  string
	ttl    time.Duration
	now    func() time.Time
	held   bool
}

// NewDynamoLock creates a lock stored in table using the default credential
// chain for region.
func NewDynamoLock(ctx context.Context, table, region, key string, ttl time.Duration) (*DynamoLock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newDynamoLock(dynamodb.NewFromConfig(cfg), table, key, ttl), nil
}

func newDynamoLock(client dynamoAPI, table, key string, ttl time.Duration) *DynamoLock {
	return &DynamoLock{
		client: client,
		table:  table,
		key:    key,
		owner:  uuid.NewString(),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (l *DynamoLock) itemKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "LOCK#" + l.key},
		"SK": &types.AttributeValueMemberS{Value: "RUN"},
	}
}

// Acquire writes the lock item unless an unexpired one exists.
func (l *DynamoLock) Acquire(ctx context.Context) (bool, error) {
	now := l.now()
	av, err := attributevalue.MarshalMap(lockItem{
		PK:        "LOCK#" + l.key,
		SK:        "RUN",
		Owner:     l.owner,
		ExpiresAt: now.Add(l.ttl).Unix(),
	})
	if err != nil {
		return false, err
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	var held *types.ConditionalCheckFailedException
	if errors.As(err, &held) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	l.held = true
	return true, nil
}

// Extend rewrites the lock item with a later expiry if this process still
// owns it.
func (l *DynamoLock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.held {
		return ErrNotHeld
	}
	av, err := attributevalue.MarshalMap(lockItem{
		PK:        "LOCK#" + l.key,
		SK:        "RUN",
		Owner:     l.owner,
		ExpiresAt: l.now().Add(ttl).Unix(),
	})
	if err != nil {
		return err
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(l.table),
		Item:                     av,
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: l.owner},
		},
	})
	var lost *types.ConditionalCheckFailedException
	if errors.As(err, &lost) {
		l.held = false
		return ErrNotHeld
	}
	if err != nil {
		return fmt.Errorf("failed to extend lock %s: %w", l.key, err)
	}
	return nil
}

// Release deletes the lock item if this process still owns it.
func (l *DynamoLock) Release(ctx context.Context) error {
	if !l.held {
		return ErrNotHeld
	}
	l.held = false

	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(l.table),
		Key:                      l.itemKey(),
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: l.owner},
		},
	})
	var lost *types.ConditionalCheckFailedException
	if errors.As(err, &lost) {
		return ErrNotHeld
	}
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}
