package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/averko/marketpulse/internal/platform/resilience"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	if err := st.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := st.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("expected v, got %q", got)
	}

	if err := st.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := st.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	t.Log("✓ put, get and delete round trip")
}

func TestMemoryStoreNotFoundIsPermanent(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "missing")

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !resilience.IsPermanent(err) {
		t.Error("not-found must be marked permanent so it is never retried")
	}

	t.Log("✓ missing key is a permanent not-found")
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	st.Put(ctx, "k", []byte("v"))

	boom := errors.New("injected")
	st.FailGets(boom)
	if _, err := st.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}

	st.FailGets(nil)
	if _, err := st.Get(ctx, "k"); err != nil {
		t.Fatalf("expected recovery after clearing injection, got %v", err)
	}
	if st.GetCalls() != 2 {
		t.Errorf("expected 2 get calls counted, got %d", st.GetCalls())
	}

	t.Log("✓ injected failures apply and clear")
}

func TestMemoryStoreLatencyHonorsContext(t *testing.T) {
	st := NewMemoryStore()
	st.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := st.Get(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	t.Log("✓ artificial latency respects the caller's deadline")
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	val := []byte("original")
	st.Put(ctx, "k", val)
	val[0] = 'X'

	got, _ := st.Get(ctx, "k")
	if string(got) != "original" {
		t.Errorf("stored value aliased the caller's buffer: %q", got)
	}
	got[0] = 'Y'

	again, _ := st.Get(ctx, "k")
	if string(again) != "original" {
		t.Errorf("returned value aliased the stored buffer: %q", again)
	}

	t.Log("✓ stored bytes are isolated from caller mutations")
}

func TestClassifyDynamoErrors(t *testing.T) {
	throttle := &types.ProvisionedThroughputExceededException{}
	if err := classify(throttle); !resilience.IsRateLimited(err) {
		t.Error("throughput exceeded should classify as rate limited")
	}

	requestLimit := &types.RequestLimitExceeded{}
	if err := classify(requestLimit); !resilience.IsRateLimited(err) {
		t.Error("request limit should classify as rate limited")
	}

	missingTable := &types.ResourceNotFoundException{}
	if err := classify(missingTable); !resilience.IsPermanent(err) {
		t.Error("missing table should classify as permanent")
	}

	network := errors.New("connection reset")
	err := classify(network)
	if resilience.IsPermanent(err) || resilience.IsRateLimited(err) {
		t.Error("unrecognized errors should stay retryable")
	}
	if !errors.Is(err, network) {
		t.Error("classification must preserve the underlying error")
	}

	if classify(nil) != nil {
		t.Error("nil should classify as nil")
	}

	t.Log("✓ DynamoDB errors map onto the retry taxonomy")
}
