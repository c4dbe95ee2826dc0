package db

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/chepyr/go-todo-service/internal/metrics"
	"github.com/chepyr/go-todo-service/shared/models"
	"github.com/chepyr/go-todo-service/todos-service/paging"
)

const dynamoBackend = "dynamodb"

// DynamoDBAPI is the subset of *dynamodb.Client the repository uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// todoKey mirrors the table key schema: userId (partition), todoId (sort).
type todoKey struct {
	UserID string `dynamodbav:"userId"`
	TodoID string `dynamodbav:"todoId"`
}

type DynamoTodoRepository struct {
	client DynamoDBAPI
	table  string
	log    *zap.Logger
}

func NewDynamoTodoRepository(client DynamoDBAPI, table string, log *zap.Logger) *DynamoTodoRepository {
	return &DynamoTodoRepository{client: client, table: table, log: log}
}

func (r *DynamoTodoRepository) Create(ctx context.Context, todo *models.Todo) error {
	defer metrics.RecordStoreOperation("put", dynamoBackend, time.Now())

	item, err := attributevalue.MarshalMap(todo)
	if err != nil {
		return storageErr("put", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	})
	if err != nil {
		r.log.Error("PutItem failed", zap.String("todo_id", todo.TodoID), zap.Error(err))
		return storageErr("put", err)
	}
	return nil
}

func (r *DynamoTodoRepository) Delete(ctx context.Context, todoID, userID string) error {
	defer metrics.RecordStoreOperation("delete", dynamoBackend, time.Now())

	key, err := marshalKey(todoID, userID)
	if err != nil {
		return storageErr("delete", err)
	}
	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key:       key,
	})
	return storageErr("delete", err)
}

func (r *DynamoTodoRepository) GetByID(ctx context.Context, todoID, userID string) (*models.Todo, error) {
	defer metrics.RecordStoreOperation("get", dynamoBackend, time.Now())

	key, err := marshalKey(todoID, userID)
	if err != nil {
		return nil, storageErr("get", err)
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       key,
	})
	if err != nil {
		return nil, storageErr("get", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	todo := &models.Todo{}
	if err := attributevalue.UnmarshalMap(out.Item, todo); err != nil {
		return nil, storageErr("get", err)
	}
	return todo, nil
}

// UpdateAttachmentURL only touches an existing row; UpdateItem would
// otherwise upsert a bare key.
func (r *DynamoTodoRepository) UpdateAttachmentURL(ctx context.Context, todoID, userID, attachmentURL string) error {
	defer metrics.RecordStoreOperation("update", dynamoBackend, time.Now())

	key, err := marshalKey(todoID, userID)
	if err != nil {
		return storageErr("update", err)
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 key,
		UpdateExpression:    aws.String("SET attachmentUrl = :attachmentUrl"),
		ConditionExpression: aws.String("attribute_exists(todoId)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":attachmentUrl": &types.AttributeValueMemberS{Value: attachmentURL},
		},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrTodoNotFound
	}
	return storageErr("update", err)
}

func (r *DynamoTodoRepository) FindAll(ctx context.Context, userID string, limit int, startKey *paging.Key) ([]*models.Todo, *paging.Key, error) {
	defer metrics.RecordStoreOperation("query", dynamoBackend, time.Now())

	if err := checkLimit(limit); err != nil {
		return nil, nil, storageErr("query", err)
	}
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("userId = :userId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":userId": &types.AttributeValueMemberS{Value: userID},
		},
		Limit: aws.Int32(int32(limit)),
	}
	if startKey != nil {
		esk, err := marshalKey(startKey.TodoID, startKey.UserID)
		if err != nil {
			return nil, nil, storageErr("query", err)
		}
		input.ExclusiveStartKey = esk
	}

	out, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, nil, storageErr("query", err)
	}

	todos := make([]*models.Todo, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &todos); err != nil {
		return nil, nil, storageErr("query", err)
	}

	if len(out.LastEvaluatedKey) == 0 {
		return todos, nil, nil
	}
	var last todoKey
	if err := attributevalue.UnmarshalMap(out.LastEvaluatedKey, &last); err != nil {
		return nil, nil, storageErr("query", err)
	}
	return todos, &paging.Key{UserID: last.UserID, TodoID: last.TodoID}, nil
}

func marshalKey(todoID, userID string) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(todoKey{UserID: userID, TodoID: todoID})
}
