package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/x-prune/xprune/internal/platform"
)

const redisKeyPrefix = "xprune:session:"

// RedisStore keeps sessions in Redis with a TTL, for deployments where the
// intermediary runs more than one instance. Entries are still session-scoped:
// the TTL bounds their lifetime and Delete removes them on logout.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore on an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// sessionRecord is the serialized form of a Session. The selection map is
// flattened to a slice of identifiers.
type sessionRecord struct {
	ID           string             `json:"id"`
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token,omitempty"`
	Account      platform.Account   `json:"account"`
	CreatedAt    time.Time          `json:"created_at"`
	Following    []platform.Account `json:"following,omitempty"`
	Followers    []platform.Account `json:"followers,omitempty"`
	NonFollowers []platform.Account `json:"non_followers,omitempty"`
	MutualCount  int                `json:"mutual_count"`
	Analyzed     bool               `json:"analyzed"`
	SelectedIDs  []string           `json:"selected_ids,omitempty"`
}

// Save serializes the session and stores it under its identifier with the TTL.
func (store *RedisStore) Save(ctx context.Context, session *Session) error {
	record := sessionRecord{
		ID:           session.ID,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		Account:      session.Account,
		CreatedAt:    session.CreatedAt,
		Following:    session.Following,
		Followers:    session.Followers,
		NonFollowers: session.NonFollowers,
		MutualCount:  session.MutualCount,
		Analyzed:     session.Analyzed,
	}
	for selectedID := range session.Selection {
		record.SelectedIDs = append(record.SelectedIDs, selectedID)
	}

	payload, marshalErr := json.Marshal(record)
	if marshalErr != nil {
		return fmt.Errorf("serialize session: %w", marshalErr)
	}
	if setErr := store.client.Set(ctx, redisKeyPrefix+session.ID, payload, store.ttl).Err(); setErr != nil {
		return fmt.Errorf("store session: %w", setErr)
	}
	return nil
}

// Load fetches and deserializes the session or returns ErrSessionNotFound.
func (store *RedisStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	payload, getErr := store.client.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if errors.Is(getErr, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if getErr != nil {
		return nil, fmt.Errorf("load session: %w", getErr)
	}

	var record sessionRecord
	if unmarshalErr := json.Unmarshal(payload, &record); unmarshalErr != nil {
		return nil, fmt.Errorf("deserialize session: %w", unmarshalErr)
	}

	restored := &Session{
		ID:           record.ID,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		Account:      record.Account,
		CreatedAt:    record.CreatedAt,
		Following:    record.Following,
		Followers:    record.Followers,
		NonFollowers: record.NonFollowers,
		MutualCount:  record.MutualCount,
		Analyzed:     record.Analyzed,
		Selection:    make(map[string]struct{}, len(record.SelectedIDs)),
	}
	for _, selectedID := range record.SelectedIDs {
		restored.Selection[selectedID] = struct{}{}
	}
	return restored, nil
}

// Delete removes the session key. Absent keys are not an error.
func (store *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if delErr := store.client.Del(ctx, redisKeyPrefix+sessionID).Err(); delErr != nil {
		return fmt.Errorf("delete session: %w", delErr)
	}
	return nil
}
