package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// DefaultSensorIndex is the GSI (sensor_id HASH, accepted_at RANGE) used for
// recent-reading queries.
const DefaultSensorIndex = "sensor_id-accepted_at-index"

// sortableTime keeps accepted_at lexically ordered in the index.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// dynamoItem is keyed by (device_addr HASH, counter RANGE); the conditional
// put on that key is the idempotency gate.
type dynamoItem struct {
	DeviceAddr string `dynamodbav:"device_addr"`
	Counter    int64  `dynamodbav:"counter"`
	ID         string `dynamodbav:"id"`
	SensorID   string `dynamodbav:"sensor_id"`
	AcceptedAt string `dynamodbav:"accepted_at"`
	Payload    string `dynamodbav:"payload"`
}

type DynamoStore struct {
	client    dynamoAPI
	tableName string
	indexName string
}

// OpenDynamo loads the default AWS credential chain.
func OpenDynamo(ctx context.Context, table string) (*DynamoStore, error) {
	if table == "" {
		return nil, errors.New("DYNAMODB_TABLE_NAME is not set")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), table, DefaultSensorIndex), nil
}

func NewDynamoStore(client dynamoAPI, table, index string) *DynamoStore {
	if index == "" {
		index = DefaultSensorIndex
	}
	return &DynamoStore{client: client, tableName: table, indexName: index}
}

func (d *DynamoStore) Accept(ctx context.Context, sensorID string, r domain.Reading, at time.Time) (domain.AcceptedReading, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return domain.AcceptedReading{}, fmt.Errorf("marshal reading: %w", err)
	}
	a := domain.AcceptedReading{
		ID:         domain.ReadingID(uuid.NewString()),
		SensorID:   sensorID,
		AcceptedAt: at.UTC(),
		Reading:    r,
	}
	item, err := attributevalue.MarshalMap(dynamoItem{
		DeviceAddr: r.DeviceAddress,
		Counter:    r.SequenceCounter,
		ID:         string(a.ID),
		SensorID:   sensorID,
		AcceptedAt: a.AcceptedAt.Format(sortableTime),
		Payload:    string(payload),
	})
	if err != nil {
		return domain.AcceptedReading{}, fmt.Errorf("failed to marshal reading: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(device_addr)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return domain.AcceptedReading{}, ports.ErrDuplicate
	}
	if err != nil {
		return domain.AcceptedReading{}, fmt.Errorf("failed to store reading in dynamodb: %w", err)
	}
	return a, nil
}

func (d *DynamoStore) Recent(ctx context.Context, sensorID string, limit int) ([]domain.AcceptedReading, error) {
	if limit <= 0 {
		limit = DefaultRetention
	}
	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String(d.indexName),
		KeyConditionExpression: aws.String("sensor_id = :s"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: sensorID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("query dynamodb: %w", err)
	}

	var items []dynamoItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal readings: %w", err)
	}
	readings := make([]domain.AcceptedReading, 0, len(items))
	for _, it := range items {
		at, err := time.Parse(time.RFC3339Nano, it.AcceptedAt)
		if err != nil {
			return nil, fmt.Errorf("reading %s accepted_at: %w", it.ID, err)
		}
		a := domain.AcceptedReading{ID: domain.ReadingID(it.ID), SensorID: it.SensorID, AcceptedAt: at}
		if err := json.Unmarshal([]byte(it.Payload), &a.Reading); err != nil {
			return nil, fmt.Errorf("reading %s payload: %w", it.ID, err)
		}
		readings = append(readings, a)
	}
	return readings, nil
}

func (d *DynamoStore) Close() error { return nil }

var _ ports.ReadingStore = (*DynamoStore)(nil)
