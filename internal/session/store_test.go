package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/x-prune/xprune/internal/platform"
)

func TestMemoryStoreRoundTrip(testInstance *testing.T) {
	testInstance.Parallel()

	store := NewMemoryStore(time.Hour)
	stored := New(platform.TokenGrant{AccessToken: "token"}, accountWithID("self"))

	if saveErr := store.Save(context.Background(), stored); saveErr != nil {
		testInstance.Fatalf("unexpected save error: %v", saveErr)
	}

	loaded, loadErr := store.Load(context.Background(), stored.ID)
	if loadErr != nil {
		testInstance.Fatalf("unexpected load error: %v", loadErr)
	}
	if loaded.AccessToken != "token" {
		testInstance.Fatalf("unexpected access token %s", loaded.AccessToken)
	}
}

func TestMemoryStoreExpiresSessions(testInstance *testing.T) {
	testInstance.Parallel()

	store := NewMemoryStore(time.Minute)
	currentTime := time.Now()
	store.now = func() time.Time { return currentTime }

	stored := New(platform.TokenGrant{AccessToken: "token"}, accountWithID("self"))
	if saveErr := store.Save(context.Background(), stored); saveErr != nil {
		testInstance.Fatalf("unexpected save error: %v", saveErr)
	}

	currentTime = currentTime.Add(2 * time.Minute)

	_, loadErr := store.Load(context.Background(), stored.ID)
	if !errors.Is(loadErr, ErrSessionNotFound) {
		testInstance.Fatalf("expected ErrSessionNotFound after expiry, got %v", loadErr)
	}
}

func TestMemoryStoreLoadUnknownSession(testInstance *testing.T) {
	testInstance.Parallel()

	store := NewMemoryStore(time.Hour)

	_, loadErr := store.Load(context.Background(), "missing")
	if !errors.Is(loadErr, ErrSessionNotFound) {
		testInstance.Fatalf("expected ErrSessionNotFound, got %v", loadErr)
	}
}

func TestMemoryStoreDelete(testInstance *testing.T) {
	testInstance.Parallel()

	store := NewMemoryStore(time.Hour)
	stored := New(platform.TokenGrant{AccessToken: "token"}, accountWithID("self"))

	if saveErr := store.Save(context.Background(), stored); saveErr != nil {
		testInstance.Fatalf("unexpected save error: %v", saveErr)
	}
	if deleteErr := store.Delete(context.Background(), stored.ID); deleteErr != nil {
		testInstance.Fatalf("unexpected delete error: %v", deleteErr)
	}
	if _, loadErr := store.Load(context.Background(), stored.ID); !errors.Is(loadErr, ErrSessionNotFound) {
		testInstance.Fatalf("expected ErrSessionNotFound after delete, got %v", loadErr)
	}
	if deleteErr := store.Delete(context.Background(), stored.ID); deleteErr != nil {
		testInstance.Fatalf("deleting an absent session should not fail: %v", deleteErr)
	}
}

func newRedisStoreForTest(testInstance *testing.T) *RedisStore {
	testInstance.Helper()

	server := miniredis.RunT(testInstance)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	testInstance.Cleanup(func() { _ = client.Close() })

	store, storeErr := NewRedisStore(client, time.Hour)
	if storeErr != nil {
		testInstance.Fatalf("unexpected store construction error: %v", storeErr)
	}
	return store
}

func TestRedisStoreRoundTripPreservesAnalysisState(testInstance *testing.T) {
	testInstance.Parallel()

	store := newRedisStoreForTest(testInstance)

	stored := analyzedSession([]string{"A", "B", "C"}, []string{"B"})
	stored.Select("A")

	if saveErr := store.Save(context.Background(), stored); saveErr != nil {
		testInstance.Fatalf("unexpected save error: %v", saveErr)
	}

	loaded, loadErr := store.Load(context.Background(), stored.ID)
	if loadErr != nil {
		testInstance.Fatalf("unexpected load error: %v", loadErr)
	}
	if !loaded.Analyzed {
		testInstance.Fatal("expected analyzed flag to survive the round trip")
	}
	if len(loaded.NonFollowers) != 2 || loaded.MutualCount != 1 {
		testInstance.Fatalf("unexpected analysis state: %d non-followers, mutual %d", len(loaded.NonFollowers), loaded.MutualCount)
	}
	if _, isSelected := loaded.Selection["A"]; !isSelected {
		testInstance.Fatal("expected selection to survive the round trip")
	}
	if loaded.AccessToken != stored.AccessToken {
		testInstance.Fatalf("unexpected access token %s", loaded.AccessToken)
	}
}

func TestRedisStoreLoadUnknownSession(testInstance *testing.T) {
	testInstance.Parallel()

	store := newRedisStoreForTest(testInstance)

	_, loadErr := store.Load(context.Background(), "missing")
	if !errors.Is(loadErr, ErrSessionNotFound) {
		testInstance.Fatalf("expected ErrSessionNotFound, got %v", loadErr)
	}
}

func TestRedisStoreDeleteRemovesSession(testInstance *testing.T) {
	testInstance.Parallel()

	store := newRedisStoreForTest(testInstance)
	stored := New(platform.TokenGrant{AccessToken: "token"}, accountWithID("self"))

	if saveErr := store.Save(context.Background(), stored); saveErr != nil {
		testInstance.Fatalf("unexpected save error: %v", saveErr)
	}
	if deleteErr := store.Delete(context.Background(), stored.ID); deleteErr != nil {
		testInstance.Fatalf("unexpected delete error: %v", deleteErr)
	}
	if _, loadErr := store.Load(context.Background(), stored.ID); !errors.Is(loadErr, ErrSessionNotFound) {
		testInstance.Fatalf("expected ErrSessionNotFound after delete, got %v", loadErr)
	}
}
