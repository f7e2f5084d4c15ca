package dedup

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

func TestPostgresStore(t *testing.T) {
	dbURL := os.Getenv("DEDUP_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("DEDUP_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	cache := NewCache(store, "test:"+uuid.NewString(), 500*time.Millisecond, 2*time.Second, logger.Discard())
	if seen, err := cache.SeenOrMark(ctx, "k"); err != nil || seen {
		t.Fatalf("first: seen=%v err=%v", seen, err)
	}
	if seen, err := cache.SeenOrMark(ctx, "k"); err != nil || !seen {
		t.Fatalf("second: seen=%v err=%v", seen, err)
	}
	time.Sleep(600 * time.Millisecond)
	if seen, _ := cache.SeenOrMark(ctx, "k"); seen {
		t.Fatal("expired key should be claimable again")
	}
	if err := cache.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestDynamoStore(t *testing.T) {
	table := os.Getenv("DEDUP_TEST_DYNAMODB_TABLE")
	if table == "" {
		t.Skip("DEDUP_TEST_DYNAMODB_TABLE not set")
	}

	ctx := context.Background()
	store, err := NewDynamoStore(ctx, table, os.Getenv("AWS_REGION"))
	if err != nil {
		t.Fatalf("aws config: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("describe table: %v", err)
	}

	cache := NewCache(store, "test:"+uuid.NewString(), time.Minute, 5*time.Second, logger.Discard())
	if seen, err := cache.SeenOrMark(ctx, "k"); err != nil || seen {
		t.Fatalf("first: seen=%v err=%v", seen, err)
	}
	if seen, err := cache.SeenOrMark(ctx, "k"); err != nil || !seen {
		t.Fatalf("second: seen=%v err=%v", seen, err)
	}
	if err := cache.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
}
