package utils

import (
	"context"
	"testing"
	"time"
)

func TestAdvisoryLockValidation(t *testing.T) {
	ctx := context.Background()

	if _, err := AcquireAdvisoryLock(ctx, nil, "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseAdvisoryLock(ctx, nil, "k", "t"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestAdvisoryReleaseScriptInitialized(t *testing.T) {
	if advisoryReleaseScript == nil {
		t.Fatalf("expected release script to be initialized")
	}
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
