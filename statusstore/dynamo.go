package statusstore

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoStore implements Store on a single DynamoDB table keyed by
// session_id (spec §6.6).
type DynamoStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoStore wraps an already-configured DynamoDB client.
func NewDynamoStore(client *dynamodb.Client, table string) (*DynamoStore, error) {
	if client == nil {
		return nil, errors.New("statusstore: dynamodb client is required")
	}
	if table == "" {
		return nil, errors.New("statusstore: table name is required")
	}
	return &DynamoStore{client: client, table: table}, nil
}

func (s *DynamoStore) Get(ctx context.Context, sessionID string) (Status, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"session_id": &types.AttributeValueMemberS{Value: sessionID},
		},
	})
	if err != nil {
		return Status{}, false, err
	}
	if len(out.Item) == 0 {
		return Status{}, false, nil
	}
	var item Status
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return Status{}, false, err
	}
	return item, true, nil
}

func (s *DynamoStore) Put(ctx context.Context, item Status) error {
	if item.SessionID == "" {
		return errors.New("statusstore: session id is required")
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	return err
}
