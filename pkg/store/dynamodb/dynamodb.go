// Package dynamodb stores the graph in a single DynamoDB table. Items are
// partitioned by collection name (PK) and sorted by record key (SK), so a
// collection scan is a Query on one partition.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkAttr = "PK"
	skAttr = "SK"

	// batchSize is the BatchWriteItem request limit.
	batchSize = 25
	// batchAttempts bounds resubmission of unprocessed writes.
	batchAttempts = 10
)

// API is the subset of *dynamodb.Client the backend calls.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// ClientOptions configures NewClient. Endpoint and static keys are only
// needed for local emulators.
type ClientOptions struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewClient builds a DynamoDB client from the default AWS configuration
// chain.
func NewClient(ctx context.Context, opts ClientOptions) (*dynamodb.Client, error) {
	var loaders []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// Backend implements store.Backend on DynamoDB.
type Backend struct {
	client API
	table  string
	cols   store.Collections
}

var _ store.Backend = (*Backend)(nil)

// New returns a backend on table. The table must have a string hash key PK
// and a string range key SK; EnsureTable creates it.
func New(client API, table string, cols store.Collections) (*Backend, error) {
	cols = cols.WithDefaults()
	if err := cols.Validate(); err != nil {
		return nil, err
	}
	if table == "" {
		return nil, fmt.Errorf("%w: table name is empty", store.ErrInvalidArgument)
	}
	return &Backend{client: client, table: table, cols: cols}, nil
}

// EnsureTable creates the table with on-demand billing if it is missing and
// waits until it is active.
func (b *Backend) EnsureTable(ctx context.Context, wait time.Duration) error {
	_, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return err
	}

	_, err = b.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(b.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(pkAttr), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(skAttr), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(pkAttr), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(skAttr), KeyType: types.KeyTypeRange},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", b.table, err)
	}
	logger.Info("[DynamoDB] Created table", "table", b.table)

	waiter := dynamodb.NewTableExistsWaiter(b.client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.table)}, wait)
}

func itemKey(coll, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		pkAttr: &types.AttributeValueMemberS{Value: coll},
		skAttr: &types.AttributeValueMemberS{Value: id},
	}
}

func marshalItem(coll, id string, v any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	for k, av := range itemKey(coll, id) {
		item[k] = av
	}
	return item, nil
}

func getItem[T any](ctx context.Context, b *Backend, coll, id string) (T, error) {
	var out T
	res, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            itemKey(coll, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return out, err
	}
	if len(res.Item) == 0 {
		return out, store.ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(res.Item, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return out, nil
}

func (b *Backend) exists(ctx context.Context, coll, id string) (bool, error) {
	res, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(b.table),
		Key:                  itemKey(coll, id),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String(pkAttr),
	})
	if err != nil {
		return false, err
	}
	return len(res.Item) > 0, nil
}

func (b *Backend) put(ctx context.Context, coll, id string, v any) error {
	item, err := marshalItem(coll, id, v)
	if err != nil {
		return err
	}
	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.table),
		Item:      item,
	})
	return err
}

func (b *Backend) delete(ctx context.Context, coll, id string) error {
	_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.table),
		Key:       itemKey(coll, id),
	})
	return err
}

// query pages through the partition of coll in key order.
func (b *Backend) query(ctx context.Context, coll string, projection *expression.ProjectionBuilder) ([]map[string]types.AttributeValue, error) {
	builder := expression.NewBuilder().WithKeyCondition(expression.Key(pkAttr).Equal(expression.Value(coll)))
	if projection != nil {
		builder = builder.WithProjection(*projection)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, err
	}

	p := dynamodb.NewQueryPaginator(b.client, &dynamodb.QueryInput{
		TableName:                 aws.String(b.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})
	var items []map[string]types.AttributeValue
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func scan[T any](ctx context.Context, b *Backend, coll string, fn func(T) error) error {
	items, err := b.query(ctx, coll, nil)
	if err != nil {
		return err
	}
	var records []T
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return fmt.Errorf("failed to unmarshal items: %w", err)
	}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) GetNode(ctx context.Context, uid string) (common.Node, error) {
	return getItem[common.Node](ctx, b, b.cols.Nodes, uid)
}

// InsertNode writes node only if its key is free.
func (b *Backend) InsertNode(ctx context.Context, node common.Node) error {
	item, err := marshalItem(b.cols.Nodes, node.UID, node)
	if err != nil {
		return err
	}
	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(pkAttr))).
		Build()
	if err != nil {
		return err
	}
	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(b.table),
		Item:                     item,
		ConditionExpression:      cond.Condition(),
		ExpressionAttributeNames: cond.Names(),
	})
	var conditionalCheckFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionalCheckFailed) {
		return store.ErrAlreadyExists
	}
	return err
}

func (b *Backend) PutNode(ctx context.Context, node common.Node) error {
	return b.put(ctx, b.cols.Nodes, node.UID, node)
}

func (b *Backend) DeleteNode(ctx context.Context, uid string) error {
	return b.delete(ctx, b.cols.Nodes, uid)
}

func (b *Backend) NodeExists(ctx context.Context, uid string) (bool, error) {
	return b.exists(ctx, b.cols.Nodes, uid)
}

func (b *Backend) ScanNodes(ctx context.Context, fn func(common.Node) error) error {
	return scan(ctx, b, b.cols.Nodes, fn)
}

func (b *Backend) GetEdge(ctx context.Context, key string) (common.Edge, error) {
	return getItem[common.Edge](ctx, b, b.cols.Edges, key)
}

func (b *Backend) PutEdge(ctx context.Context, edge common.Edge) error {
	return b.put(ctx, b.cols.Edges, edge.EdgeUID, edge)
}

func (b *Backend) DeleteEdge(ctx context.Context, key string) error {
	return b.delete(ctx, b.cols.Edges, key)
}

func (b *Backend) EdgeExists(ctx context.Context, key string) (bool, error) {
	return b.exists(ctx, b.cols.Edges, key)
}

func (b *Backend) ScanEdges(ctx context.Context, fn func(common.Edge) error) error {
	return scan(ctx, b, b.cols.Edges, fn)
}

func (b *Backend) GetCommunity(ctx context.Context, title string) (common.Community, error) {
	return getItem[common.Community](ctx, b, b.cols.Communities, title)
}

func (b *Backend) PutCommunity(ctx context.Context, c common.Community) error {
	return b.put(ctx, b.cols.Communities, c.Title, c)
}

func (b *Backend) ScanCommunities(ctx context.Context, fn func(common.Community) error) error {
	return scan(ctx, b, b.cols.Communities, fn)
}

// Flush deletes every item of the three partitions in batches.
func (b *Backend) Flush(ctx context.Context) error {
	proj := expression.NamesList(expression.Name(pkAttr), expression.Name(skAttr))
	for _, coll := range []string{b.cols.Nodes, b.cols.Edges, b.cols.Communities} {
		items, err := b.query(ctx, coll, &proj)
		if err != nil {
			return err
		}
		err = store.ChunkRange(len(items), batchSize, func(start, end int) error {
			reqs := make([]types.WriteRequest, 0, end-start)
			for _, item := range items[start:end] {
				reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{pkAttr: item[pkAttr], skAttr: item[skAttr]},
				}})
			}
			return b.batchWrite(ctx, reqs)
		})
		if err != nil {
			return err
		}
		logger.Debug("[DynamoDB][Flush] Cleared collection", "collection", coll, "items", len(items))
	}
	return nil
}

// batchWrite resubmits unprocessed requests until none remain.
func (b *Backend) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{b.table: reqs}
	for attempt := 0; len(pending[b.table]) > 0; attempt++ {
		if attempt == batchAttempts {
			return fmt.Errorf("%d batch writes still unprocessed after %d attempts", len(pending[b.table]), attempt)
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
		res, err := b.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		pending = res.UnprocessedItems
	}
	return nil
}

// Close is a no-op; the SDK client holds no connections that need closing.
func (b *Backend) Close() error {
	return nil
}
