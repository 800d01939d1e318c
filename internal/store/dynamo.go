package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/averko/marketpulse/internal/platform/observability"
	"github.com/averko/marketpulse/internal/platform/resilience"
)

const (
	attrKey       = "pk"
	attrValue     = "val"
	attrUpdatedAt = "updated_at"
)

// DynamoStore implements Store on a DynamoDB table with a simple
// {pk, val, updated_at} item shape. Reads are eventually consistent.
// Writes go through an adaptive rate limiter so the client backs off
// before the table starts rejecting writes wholesale.
type DynamoStore struct {
	client       *dynamodb.Client
	table        string
	breaker      *resilience.CircuitBreaker
	writeLimiter *resilience.AdaptiveLimiter
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// DynamoStoreConfig holds DynamoDB store configuration
type DynamoStoreConfig struct {
	AWSConfig    aws.Config
	Table        string
	Endpoint     string // non-empty for local endpoints (e.g. DynamoDB Local)
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Breaker      *resilience.CircuitBreaker
	WriteLimiter *resilience.AdaptiveLimiter
}

// NewDynamoStore creates a DynamoDB-backed store
func NewDynamoStore(cfg DynamoStoreConfig) (*DynamoStore, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamo store: table is required")
	}

	client := dynamodb.NewFromConfig(cfg.AWSConfig, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "dynamodb",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		})
	}

	limiter := cfg.WriteLimiter
	if limiter == nil {
		limiter = resilience.NewAdaptiveLimiter(resilience.AdaptiveLimiterConfig{
			BaseRate: 25,
			MinRate:  1,
			MaxRate:  100,
			Burst:    50,
		})
	}

	return &DynamoStore{
		client:       client,
		table:        cfg.Table,
		breaker:      breaker,
		writeLimiter: limiter,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}, nil
}

// Get returns the value for key, or ErrNotFound.
func (s *DynamoStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	var value []byte
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.table),
			Key: map[string]types.AttributeValue{
				attrKey: &types.AttributeValueMemberS{Value: key},
			},
			// Eventually consistent reads cost half and match the
			// consistency model callers already tolerate.
			ConsistentRead: aws.Bool(false),
		})
		if err != nil {
			return classify(err)
		}
		if out.Item == nil {
			return resilience.Permanent(ErrNotFound)
		}
		attr, ok := out.Item[attrValue].(*types.AttributeValueMemberB)
		if !ok {
			return resilience.Permanent(fmt.Errorf("dynamo store: malformed item for key %q", key))
		}
		value = attr.Value
		return nil
	})

	s.record(ctx, "get", start, err)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put writes the value for key.
func (s *DynamoStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.writeLimiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item: map[string]types.AttributeValue{
				attrKey:       &types.AttributeValueMemberS{Value: key},
				attrValue:     &types.AttributeValueMemberB{Value: value},
				attrUpdatedAt: &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().UnixMilli(), 10)},
			},
		})
		return classify(err)
	})

	s.record(ctx, "put", start, err)
	s.recordWriteOutcome(err)
	return err
}

// Delete removes the key.
func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	if err := s.writeLimiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key: map[string]types.AttributeValue{
				attrKey: &types.AttributeValueMemberS{Value: key},
			},
		})
		return classify(err)
	})

	s.record(ctx, "delete", start, err)
	s.recordWriteOutcome(err)
	return err
}

// Close releases resources. The SDK client holds no long-lived connections
// that need explicit teardown.
func (s *DynamoStore) Close() error {
	return nil
}

// Breaker exposes the circuit breaker for observability polling.
func (s *DynamoStore) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

// classify maps DynamoDB errors onto the retry layer's taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var throughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return resilience.RateLimited(err)
	}
	var requestLimit *types.RequestLimitExceeded
	if errors.As(err, &requestLimit) {
		return resilience.RateLimited(err)
	}

	var missingTable *types.ResourceNotFoundException
	if errors.As(err, &missingTable) {
		return resilience.Permanent(err)
	}
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return resilience.Permanent(err)
	}

	// Network failures, 5xx and everything unrecognized stay retryable.
	return err
}

func (s *DynamoStore) record(ctx context.Context, op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.RecordBackingStoreCall(ctx, op, outcome, float64(time.Since(start).Milliseconds()))
}

func (s *DynamoStore) recordWriteOutcome(err error) {
	switch {
	case err == nil:
		s.writeLimiter.RecordSuccess()
	case resilience.IsRateLimited(err):
		s.writeLimiter.RecordRateLimitError()
	default:
		s.writeLimiter.RecordError()
	}
}
