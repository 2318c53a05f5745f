package session

import (
	"context"
	"testing"
	"time"

	"taskdeck/api/internal/store"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	redisStore, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return redisStore, s
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	tokenHash := "test-token-hash"
	user := store.User{ID: "usr_123", Email: "avery@example.com", DisplayName: "Avery"}
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := redisStore.SaveRefreshSession(ctx, tokenHash, user, expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	found, err := redisStore.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if found.ID != user.ID {
		t.Errorf("expected user ID %s, got %s", user.ID, found.ID)
	}
	if found.DisplayName != "Avery" {
		t.Errorf("expected display name Avery, got %s", found.DisplayName)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	tokenHash := "expired-token"
	user := store.User{ID: "usr_456"}

	expiresAt := time.Now().Add(1 * time.Millisecond)
	if err := redisStore.SaveRefreshSession(ctx, tokenHash, user, expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Millisecond)

	if _, err := redisStore.LookupRefreshSession(ctx, tokenHash); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	if _, err := redisStore.LookupRefreshSession(context.Background(), "never-saved"); err == nil {
		t.Error("expected error for unknown token, got nil")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	tokenHash := "revoked-token"
	user := store.User{ID: "usr_789"}

	if err := redisStore.SaveRefreshSession(ctx, tokenHash, user, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := redisStore.RevokeRefreshSession(ctx, tokenHash); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := redisStore.LookupRefreshSession(ctx, tokenHash); err == nil {
		t.Error("expected error after revocation, got nil")
	}
}
