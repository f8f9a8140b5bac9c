// Package editlock records who is currently editing an amendement.
//
// Claims live in Redis under editing:<amendement id>, outside the database
// transaction, with no expiry: staleness is left to polling clients. A claim
// remembers the holder the amendement had when editing started, so a
// transfer made meanwhile shows up as a stolen amendement instead of being
// overwritten silently.
package editlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrStoreUnavailable   = errors.New("edit lock store unavailable")
	ErrStolenWhileEditing = errors.New("amendement was transferred while being edited")
)

const (
	fieldTimestamp = "timestamp"
	fieldUserID    = "user_id"
	fieldHolder    = "holder"
)

// Claim is a live "currently editing" record. Holder is the key of the
// effective holder at the time editing started: the owner table for a
// batched amendement.
type Claim struct {
	AmendementID int64
	UserID       int64
	Holder       string
	Timestamp    time.Time
}

type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "editing:",
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Client exposes the connection for other Redis-backed helpers.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) key(amendementID int64) string {
	return s.prefix + strconv.FormatInt(amendementID, 10)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// StartEditing claims the amendement for userID, replacing any earlier claim.
func (s *RedisStore) StartEditing(ctx context.Context, amendementID, userID int64, holder string) error {
	err := s.client.HSet(ctx, s.key(amendementID), map[string]any{
		fieldTimestamp: s.now().UnixMilli(),
		fieldUserID:    userID,
		fieldHolder:    holder,
	}).Err()
	if err != nil {
		return unavailable("start editing", err)
	}
	return nil
}

func (s *RedisStore) StopEditing(ctx context.Context, amendementID int64) error {
	if err := s.client.Del(ctx, s.key(amendementID)).Err(); err != nil {
		return unavailable("stop editing", err)
	}
	return nil
}

// Claim returns the live claim, or nil when nobody is editing.
func (s *RedisStore) Claim(ctx context.Context, amendementID int64) (*Claim, error) {
	fields, err := s.client.HGetAll(ctx, s.key(amendementID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("read claim", err)
	}

	claim := &Claim{AmendementID: amendementID, Holder: fields[fieldHolder]}
	if ms, err := strconv.ParseInt(fields[fieldTimestamp], 10, 64); err == nil {
		claim.Timestamp = time.UnixMilli(ms).UTC()
	}
	if id, err := strconv.ParseInt(fields[fieldUserID], 10, 64); err == nil {
		claim.UserID = id
	}
	return claim, nil
}

// LastActivity is when the live claim started, or nil.
func (s *RedisStore) LastActivity(ctx context.Context, amendementID int64) (*time.Time, error) {
	claim, err := s.Claim(ctx, amendementID)
	if err != nil || claim == nil {
		return nil, err
	}
	ts := claim.Timestamp
	return &ts, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// IsBeingEdited holds when a claim exists and the amendement is still held
// by the holder the claim was taken on.
func IsBeingEdited(claim *Claim, holderKey string) bool {
	return claim != nil && claim.Holder == holderKey
}

// CheckStolen fails when userID's own claim was taken on a holder the
// amendement no longer has.
func CheckStolen(claim *Claim, userID int64, holderKey string) error {
	if claim == nil || claim.UserID != userID {
		return nil
	}
	if claim.Holder != holderKey {
		return ErrStolenWhileEditing
	}
	return nil
}
