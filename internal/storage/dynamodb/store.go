// Package dynamodb 基于 DynamoDB 的邮件元数据存储
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// API Store 用到的 DynamoDB 操作，测试中可替换
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// item 表中的一行
//
// ownerFolder 为 "{userId}#{folder}"，与 timestamp 组成二级索引，
// 列表查询因此可以直接按时间倒序取前 N 条。
type item struct {
	EmailID            string   `dynamodbav:"emailId"`
	UserID             string   `dynamodbav:"userId"`
	OwnerFolder        string   `dynamodbav:"ownerFolder"`
	From               string   `dynamodbav:"from"`
	To                 []string `dynamodbav:"to"`
	Cc                 []string `dynamodbav:"cc"`
	Bcc                []string `dynamodbav:"bcc,omitempty"`
	Subject            string   `dynamodbav:"subject"`
	Preview            string   `dynamodbav:"preview"`
	Timestamp          int64    `dynamodbav:"timestamp"`
	Folder             string   `dynamodbav:"folder"`
	Read               bool     `dynamodbav:"read"`
	Starred            bool     `dynamodbav:"starred"`
	HasAttachments     bool     `dynamodbav:"hasAttachments"`
	S3Key              string   `dynamodbav:"s3Key"`
	TransportMessageID string   `dynamodbav:"messageId,omitempty"`
	IsDraft            bool     `dynamodbav:"isDraft,omitempty"`
}

func ownerFolder(userID string, folder domain.Folder) string {
	return userID + "#" + string(folder)
}

func toItem(r *domain.EmailRecord) item {
	return item{
		EmailID:            r.EmailID,
		UserID:             r.OwnerID,
		OwnerFolder:        ownerFolder(r.OwnerID, r.Folder),
		From:               r.From,
		To:                 nonNil(r.To),
		Cc:                 nonNil(r.Cc),
		Bcc:                r.Bcc,
		Subject:            r.Subject,
		Preview:            r.Preview,
		Timestamp:          r.Timestamp.UnixMilli(),
		Folder:             string(r.Folder),
		Read:               r.Read,
		Starred:            r.Starred,
		HasAttachments:     r.HasAttachments,
		S3Key:              r.ContentRef,
		TransportMessageID: r.TransportMessageID,
		IsDraft:            r.IsDraft,
	}
}

func (it item) record() *domain.EmailRecord {
	return &domain.EmailRecord{
		EmailID:            it.EmailID,
		OwnerID:            it.UserID,
		From:               it.From,
		To:                 nonNil(it.To),
		Cc:                 nonNil(it.Cc),
		Bcc:                it.Bcc,
		Subject:            it.Subject,
		Preview:            it.Preview,
		Timestamp:          time.UnixMilli(it.Timestamp).UTC(),
		Folder:             domain.Folder(it.Folder),
		Read:               it.Read,
		Starred:            it.Starred,
		HasAttachments:     it.HasAttachments,
		ContentRef:         it.S3Key,
		TransportMessageID: it.TransportMessageID,
		IsDraft:            it.IsDraft,
	}
}

// Store DynamoDB 元数据存储，时间戳按毫秒精度保存
type Store struct {
	client API
	table  string
	index  string
}

var _ storage.MetadataStore = (*Store)(nil)

// NewFromConfig 使用 AWS 配置创建存储
func NewFromConfig(awsCfg aws.Config, endpoint *string, cfg config.DatabaseConfig) *Store {
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
	return New(client, cfg.DynamoTable, cfg.DynamoIndex)
}

// New 使用指定客户端创建存储
func New(client API, table, index string) *Store {
	return &Store{client: client, table: table, index: index}
}

func (s *Store) key(emailID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"emailId": &types.AttributeValueMemberS{Value: emailID},
	}
}

// Get 根据 ID 获取记录
func (s *Store) Get(ctx context.Context, emailID string) (*domain.EmailRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(emailID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, storage.ErrNotFound
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return it.record(), nil
}

// Put 创建或替换记录
func (s *Store) Put(ctx context.Context, record *domain.EmailRecord) error {
	av, err := attributevalue.MarshalMap(toItem(record))
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// UpdateFields 更新可变字段；修改 folder 时同步更新索引键
func (s *Store) UpdateFields(ctx context.Context, emailID string, update domain.FieldUpdate) error {
	if update.Empty() {
		return storage.ErrEmptyUpdate
	}

	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var sets []string

	if update.Folder != nil {
		current, err := s.Get(ctx, emailID)
		if err != nil {
			return err
		}
		names["#folder"] = "folder"
		names["#of"] = "ownerFolder"
		values[":folder"] = &types.AttributeValueMemberS{Value: string(*update.Folder)}
		values[":of"] = &types.AttributeValueMemberS{Value: ownerFolder(current.OwnerID, *update.Folder)}
		sets = append(sets, "#folder = :folder", "#of = :of")
	}
	if update.Read != nil {
		names["#read"] = "read"
		values[":read"] = &types.AttributeValueMemberBOOL{Value: *update.Read}
		sets = append(sets, "#read = :read")
	}
	if update.Starred != nil {
		names["#starred"] = "starred"
		values[":starred"] = &types.AttributeValueMemberBOOL{Value: *update.Starred}
		sets = append(sets, "#starred = :starred")
	}

	expr := "SET " + strings.Join(sets, ", ")

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(emailID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(emailId)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	return mapConditional(err, "update item")
}

// Delete 删除记录，不存在时返回 ErrNotFound
func (s *Store) Delete(ctx context.Context, emailID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(emailID),
		ConditionExpression: aws.String("attribute_exists(emailId)"),
	})
	return mapConditional(err, "delete item")
}

// QueryByOwnerFolder 通过二级索引按时间倒序查询
func (s *Store) QueryByOwnerFolder(ctx context.Context, ownerID string, folder domain.Folder, limit int) ([]*domain.EmailRecord, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.index),
		KeyConditionExpression: aws.String("ownerFolder = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: ownerFolder(ownerID, folder)},
		},
		ScanIndexForward: aws.Bool(false),
	}

	records := make([]*domain.EmailRecord, 0)
	for {
		if limit > 0 {
			input.Limit = aws.Int32(int32(limit - len(records)))
		}
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query index: %w", err)
		}
		var items []item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		for _, it := range items {
			records = append(records, it.record())
		}
		if len(out.LastEvaluatedKey) == 0 || (limit > 0 && len(records) >= limit) {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return records, nil
}

// EnsureTable 创建表与二级索引，表已存在时直接返回
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("emailId"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("ownerFolder"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("timestamp"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("emailId"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(s.index),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("ownerFolder"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("timestamp"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Ping 读取一个不存在的键来检查连通性
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       s.key("__ping__"),
	})
	return err
}

func mapConditional(err error, op string) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
