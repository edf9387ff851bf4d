package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// tableWait bounds how long migrations wait for DynamoDB table transitions.
const tableWait = 2 * time.Minute

// DynamoDB is an adapter that stores each model in its own DynamoDB table,
// hash-keyed by the primary key column.
type DynamoDB struct {
	mu     sync.RWMutex
	stores map[string]*dynamoStore
}

type dynamoStore struct {
	client  *dynamodb.Client
	prefix  string
	schemas map[string]*core.ModelSchema
	closed  bool
}

// NewDynamoDB creates a DynamoDB adapter with no datastores.
func NewDynamoDB() *DynamoDB {
	return &DynamoDB{stores: make(map[string]*dynamoStore)}
}

// Identity returns "dynamodb".
func (d *DynamoDB) Identity() string { return "dynamodb" }

// RegisterDatastore builds the client and migrates one table per model.
func (d *DynamoDB) RegisterDatastore(ctx context.Context, name string, cfg core.DatastoreConfig, schemas []*core.ModelSchema) error {
	if cfg.Region == "" {
		return fmt.Errorf("%w: region is required", core.ErrConfiguration)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Override credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	var clientOptions []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		// Custom endpoint (e.g., for LocalStack)
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	store := &dynamoStore{
		client:  dynamodb.NewFromConfig(awsCfg, clientOptions...),
		prefix:  cfg.Prefix,
		schemas: make(map[string]*core.ModelSchema, len(schemas)),
	}
	for _, schema := range schemas {
		if err := store.migrate(ctx, schema); err != nil {
			return fmt.Errorf("migrate %s: %w", schema.TableName, err)
		}
		store.schemas[schema.TableName] = schema
	}

	d.mu.Lock()
	d.stores[name] = store
	d.mu.Unlock()
	return nil
}

// Create puts a record, refusing to overwrite an existing key.
func (d *DynamoDB) Create(ctx context.Context, datastore, table string, record core.Record) (core.Record, error) {
	store, schema, err := d.lookup(datastore, table)
	if err != nil {
		return nil, err
	}
	if record[schema.PrimaryKey] == nil {
		return nil, fmt.Errorf("%w: %s requires a primary key", core.ErrValidation, table)
	}

	existing, err := store.scan(ctx, table)
	if err != nil {
		return nil, err
	}
	if err := checkUnique(schema, existing, record, ""); err != nil {
		return nil, err
	}

	item, err := attributevalue.MarshalMap(map[string]any(record))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = store.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(store.table(table)),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": schema.PrimaryKey},
	})
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return nil, fmt.Errorf("%w: %s.%s must be unique, %v already exists",
			core.ErrValidation, table, schema.PrimaryKey, record[schema.PrimaryKey])
	}
	if err != nil {
		return nil, fmt.Errorf("failed to put item into %s: %w", table, err)
	}

	var out core.Record
	if err := attributevalue.UnmarshalMap(item, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return out, nil
}

// Find uses GetItem for a lone primary key lookup and a filtered scan otherwise.
func (d *DynamoDB) Find(ctx context.Context, datastore, table string, criteria core.Criteria) ([]core.Record, error) {
	store, schema, err := d.lookup(datastore, table)
	if err != nil {
		return nil, err
	}
	return store.find(ctx, schema, criteria)
}

// Update rewrites every matching item with values merged in.
func (d *DynamoDB) Update(ctx context.Context, datastore, table string, criteria core.Criteria, values core.Record) ([]core.Record, error) {
	store, schema, err := d.lookup(datastore, table)
	if err != nil {
		return nil, err
	}
	matched, err := store.find(ctx, schema, criteria)
	if err != nil {
		return nil, err
	}
	for _, rec := range matched {
		for k, v := range values {
			rec[k] = v
		}
		item, err := attributevalue.MarshalMap(map[string]any(rec))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
		if _, err := store.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(store.table(table)),
			Item:      item,
		}); err != nil {
			return nil, fmt.Errorf("failed to update item in %s: %w", table, err)
		}
	}
	return matched, nil
}

// Destroy deletes every matching item.
func (d *DynamoDB) Destroy(ctx context.Context, datastore, table string, criteria core.Criteria) ([]core.Record, error) {
	store, schema, err := d.lookup(datastore, table)
	if err != nil {
		return nil, err
	}
	matched, err := store.find(ctx, schema, criteria)
	if err != nil {
		return nil, err
	}
	for _, rec := range matched {
		key, err := attributevalue.MarshalMap(map[string]any{schema.PrimaryKey: rec[schema.PrimaryKey]})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key: %w", err)
		}
		if _, err := store.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(store.table(table)),
			Key:       key,
		}); err != nil {
			return nil, fmt.Errorf("failed to delete item from %s: %w", table, err)
		}
	}
	return matched, nil
}

// Teardown marks the datastore closed. The SDK client holds no connections
// that need releasing.
func (d *DynamoDB) Teardown(_ context.Context, datastore string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if store, ok := d.stores[datastore]; ok {
		store.closed = true
		delete(d.stores, datastore)
	}
	return nil
}

func (d *DynamoDB) lookup(datastore, table string) (*dynamoStore, *core.ModelSchema, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	store, ok := d.stores[datastore]
	if !ok || store.closed {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrClosed, datastore)
	}
	schema, ok := store.schemas[table]
	if !ok {
		return nil, nil, fmt.Errorf("datastore %s has no table %s", datastore, table)
	}
	return store, schema, nil
}

func (s *dynamoStore) table(name string) string {
	return s.prefix + name
}

func (s *dynamoStore) migrate(ctx context.Context, schema *core.ModelSchema) error {
	name := s.table(schema.TableName)
	switch schema.Migrate {
	case "safe":
		return nil
	case "drop":
		_, err := s.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(name)})
		var notFound *types.ResourceNotFoundException
		if err != nil && !errors.As(err, &notFound) {
			return fmt.Errorf("failed to delete table: %w", err)
		}
		if err == nil {
			waiter := dynamodb.NewTableNotExistsWaiter(s.client)
			if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, tableWait); err != nil {
				return fmt.Errorf("table %s was not deleted: %w", name, err)
			}
		}
	default:
		_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
		if err == nil {
			return nil
		}
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to describe table: %w", err)
		}
	}

	keyType := types.ScalarAttributeTypeS
	if col := schema.Column(schema.PrimaryKey); col != nil && col.Type == "number" {
		keyType = types.ScalarAttributeTypeN
	}
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(schema.PrimaryKey), AttributeType: keyType},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(schema.PrimaryKey), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, tableWait); err != nil {
		return fmt.Errorf("table %s did not become active: %w", name, err)
	}
	return nil
}

func (s *dynamoStore) find(ctx context.Context, schema *core.ModelSchema, criteria core.Criteria) ([]core.Record, error) {
	if pk, ok := criteria[schema.PrimaryKey]; ok && len(criteria) == 1 && pk != nil {
		if _, isList := pk.([]any); !isList {
			key, err := attributevalue.MarshalMap(map[string]any{schema.PrimaryKey: pk})
			if err != nil {
				return nil, fmt.Errorf("failed to marshal key: %w", err)
			}
			out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
				TableName:      aws.String(s.table(schema.TableName)),
				Key:            key,
				ConsistentRead: aws.Bool(true),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to get item from %s: %w", schema.TableName, err)
			}
			if out.Item == nil {
				return nil, nil
			}
			var rec core.Record
			if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal item: %w", err)
			}
			return []core.Record{rec}, nil
		}
	}

	all, err := s.scan(ctx, schema.TableName)
	if err != nil {
		return nil, err
	}
	return filter(all, criteria), nil
}

func (s *dynamoStore) scan(ctx context.Context, table string) ([]core.Record, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:      aws.String(s.table(table)),
		ConsistentRead: aws.Bool(true),
	})
	var out []core.Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		var recs []core.Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// DynamoDBFactory creates DynamoDB adapters.
type DynamoDBFactory struct{}

// Type returns "dynamodb".
func (f *DynamoDBFactory) Type() string { return "dynamodb" }

// Create returns a new DynamoDB adapter.
func (f *DynamoDBFactory) Create() (core.Adapter, error) { return NewDynamoDB(), nil }

// Validate validates DynamoDB-specific configuration.
func (f *DynamoDBFactory) Validate(cfg core.DatastoreConfig) error {
	if cfg.Region == "" {
		return fmt.Errorf("region is required")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	return nil
}

func init() {
	RegisterFactory(&DynamoDBFactory{})
}
