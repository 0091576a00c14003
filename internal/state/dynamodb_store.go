package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/TheMichaelB/keyvault/internal/config"
	"github.com/TheMichaelB/keyvault/internal/events"
	"github.com/TheMichaelB/keyvault/internal/models"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

const (
	dynamoTimeout     = 10 * time.Second
	dynamoScanTimeout = 30 * time.Second
	dynamoRecordTries = 10
	attrPath          = "path"
	attrLastOpened    = "last_opened"
	attrLastUnlocked  = "last_unlocked"
	attrLastBackup    = "last_backup"
	attrFailedUnlocks = "failed_unlocks"
	attrVersion       = "version"
	attrUpdatedAt     = "updated_at"
	attrSchemaVersion = "schema_version"
	versionCondition  = "attribute_not_exists(#p) OR #v = :v"
)

// DynamoDBStore keeps vault records in a DynamoDB table keyed by "path",
// so several machines can share one recent list.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *events.Logger
}

// NewDynamoDBStore creates a store from the default AWS credential chain.
func NewDynamoDBStore(ctx context.Context, cfg *config.StateConfig, logger *events.Logger) (*DynamoDBStore, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("%w: state.table is required for the dynamodb backend", models.ErrInvalidConfig)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewDynamoDBStoreWithClient(client, cfg.Table, logger), nil
}

// NewDynamoDBStoreWithClient creates a store over an existing client.
func NewDynamoDBStoreWithClient(client DynamoDBAPI, tableName string, logger *events.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		logger:    logger.WithField("component", "dynamodb_state_store"),
	}
}

func (s *DynamoDBStore) key(path string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPath: &types.AttributeValueMemberS{Value: path},
	}
}

// get returns the record for key and its version, or nil when absent.
func (s *DynamoDBStore) get(ctx context.Context, key string) (*models.VaultRecord, int64, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("dynamodb get: %w", err)
	}
	if result.Item == nil {
		return nil, 0, nil
	}
	return decodeItem(result.Item)
}

// put writes r if the stored version still equals version.
func (s *DynamoDBStore) put(ctx context.Context, r *models.VaultRecord, version int64, conditional bool) error {
	item := encodeItem(r, version+1, time.Now())

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if conditional {
		input.ConditionExpression = aws.String(versionCondition)
		input.ExpressionAttributeNames = map[string]string{"#p": attrPath, "#v": attrVersion}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": numberAttr(version),
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("dynamodb put: %w", err)
	}
	return nil
}

// Load retrieves the record for path.
func (s *DynamoDBStore) Load(path string) (*models.VaultRecord, error) {
	key, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dynamoTimeout)
	defer cancel()

	r, _, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRecordNotFound
	}

	s.logger.WithField("vault_path", key).Debug("Loaded vault record from DynamoDB")
	return r, nil
}

// Save replaces the record for record.Path.
func (s *DynamoDBStore) Save(record *models.VaultRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	key, err := normalizePath(record.Path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dynamoTimeout)
	defer cancel()

	_, version, err := s.get(ctx, key)
	if err != nil {
		return err
	}

	r := record.Clone()
	r.Path = key
	return s.put(ctx, r, version, false)
}

// Record applies event with an optimistic version check, retrying when
// another writer updated the item in between.
func (s *DynamoDBStore) Record(path string, event models.VaultEvent, at time.Time) error {
	key, err := normalizePath(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dynamoTimeout)
	defer cancel()

	log := s.logger.WithFields(map[string]interface{}{
		"vault_path": key,
		"event":      string(event),
	})

	for attempt := 1; ; attempt++ {
		r, version, err := s.get(ctx, key)
		if err != nil {
			return err
		}
		if r == nil {
			r = models.NewVaultRecord(key)
		}
		if err := r.Apply(event, at); err != nil {
			return err
		}

		err = s.put(ctx, r, version, true)
		if err == nil {
			log.Debug("Recorded vault activity")
			return nil
		}

		var conflict *types.ConditionalCheckFailedException
		if !errors.As(err, &conflict) || attempt >= dynamoRecordTries {
			return err
		}
		log.WithField("attempt", attempt).Debug("Vault record changed concurrently, retrying")
	}
}

// Reset removes the record for path.
func (s *DynamoDBStore) Reset(path string) error {
	key, err := normalizePath(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dynamoTimeout)
	defer cancel()

	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(key),
	}); err != nil {
		return fmt.Errorf("dynamodb delete: %w", err)
	}

	s.logger.WithField("vault_path", key).Info("Forgetting vault")
	return nil
}

// List scans the table and returns records, most recent first.
func (s *DynamoDBStore) List(limit int) ([]*models.VaultRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dynamoScanTimeout)
	defer cancel()

	var records []*models.VaultRecord

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}
		for _, item := range page.Items {
			r, _, err := decodeItem(item)
			if err != nil {
				s.logger.WithError(err).Warn("Skipping malformed vault record")
				continue
			}
			records = append(records, r)
		}
	}

	return sortRecent(records, limit), nil
}

// Migrate transfers all records to another store.
func (s *DynamoDBStore) Migrate(target Store) error {
	return migrate(s, target, s.logger)
}

// Close is a no-op.
func (s *DynamoDBStore) Close() error {
	return nil
}

func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func encodeItem(r *models.VaultRecord, version int64, now time.Time) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrPath:          &types.AttributeValueMemberS{Value: r.Path},
		attrFailedUnlocks: numberAttr(int64(r.FailedUnlocks)),
		attrVersion:       numberAttr(version),
		attrUpdatedAt:     numberAttr(now.Unix()),
		attrSchemaVersion: numberAttr(CurrentSchemaVersion),
	}
	for name, t := range map[string]time.Time{
		attrLastOpened:   r.LastOpened,
		attrLastUnlocked: r.LastUnlocked,
		attrLastBackup:   r.LastBackup,
	} {
		if !t.IsZero() {
			item[name] = numberAttr(t.UnixNano())
		}
	}
	return item
}

func decodeItem(item map[string]types.AttributeValue) (*models.VaultRecord, int64, error) {
	pathAttr, ok := item[attrPath].(*types.AttributeValueMemberS)
	if !ok {
		return nil, 0, fmt.Errorf("invalid %s attribute type", attrPath)
	}

	number := func(name string) (int64, error) {
		attr, ok := item[name]
		if !ok {
			return 0, nil
		}
		n, ok := attr.(*types.AttributeValueMemberN)
		if !ok {
			return 0, fmt.Errorf("invalid %s attribute type", name)
		}
		return strconv.ParseInt(n.Value, 10, 64)
	}
	timestamp := func(name string) (time.Time, error) {
		n, err := number(name)
		if err != nil || n == 0 {
			return time.Time{}, err
		}
		return time.Unix(0, n).UTC(), nil
	}

	r := models.NewVaultRecord(pathAttr.Value)
	var err error
	if r.LastOpened, err = timestamp(attrLastOpened); err != nil {
		return nil, 0, err
	}
	if r.LastUnlocked, err = timestamp(attrLastUnlocked); err != nil {
		return nil, 0, err
	}
	if r.LastBackup, err = timestamp(attrLastBackup); err != nil {
		return nil, 0, err
	}
	failed, err := number(attrFailedUnlocks)
	if err != nil {
		return nil, 0, err
	}
	r.FailedUnlocks = int(failed)

	version, err := number(attrVersion)
	if err != nil {
		return nil, 0, err
	}
	return r, version, nil
}
