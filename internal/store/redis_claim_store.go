package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/devrev/ringconductor/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient is the subset of the go-redis client used by RedisClaimStore
type RedisClient interface {
	redis.Scripter
	Ping(ctx context.Context) *redis.StatusCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Close() error
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxRetries   int
	RetryBackoff time.Duration
}

var claimScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "token", ARGV[1], "mode", ARGV[2], "claimed_at", ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[4])
end
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "token") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "token") == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var setModeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("HSET", KEYS[1], "mode", ARGV[1]) + 1
end
return 0
`)

// RedisClaimStore arbitrates conductor claims with Redis. A claim is a hash
// holding the owner token and mode. With a positive TTL the key expires unless
// the owning process keeps renewing it, so a crashed conductor cannot hold a
// ring group forever.
type RedisClaimStore struct {
	client  RedisClient
	prefix  string
	ttl     time.Duration
	logger  *zap.Logger
	mu      sync.Mutex
	renewal map[string]context.CancelFunc
}

// NewRedisClient connects to Redis, retrying with exponential backoff until
// MaxRetries attempts have failed, RetryBackoff has elapsed or ctx is done
func NewRedisClient(ctx context.Context, opts RedisOptions, logger *zap.Logger) (RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	connectionRetryBackoff := backoff.NewExponentialBackOff()
	connectionRetryBackoff.MaxElapsedTime = opts.RetryBackoff

	retry := backoff.WithContext(
		backoff.WithMaxRetries(connectionRetryBackoff, uint64(opts.MaxRetries)),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		return client.Ping(ctx).Err()
	}, retry, func(err error, wait time.Duration) {
		logger.Warn("Redis not reachable, retrying",
			zap.String("host", opts.Host),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisClaimStore creates a claim store. A zero ttl makes claims persist
// until released.
func NewRedisClaimStore(client RedisClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisClaimStore {
	if prefix == "" {
		prefix = "ringconductor"
	}
	return &RedisClaimStore{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		logger:  logger,
		renewal: make(map[string]context.CancelFunc),
	}
}

func (s *RedisClaimStore) makeKey(parts ...string) string {
	return fmt.Sprintf("%s:%s", s.prefix, strings.Join(parts, ":"))
}

// Claim claims conductor status for a ring group
func (s *RedisClaimStore) Claim(ctx context.Context, ringGroup string, mode model.ConductorMode) (*model.ConductorClaim, error) {
	claim := model.NewConductorClaim(ringGroup, uuid.New().String(), mode, time.Now())

	key := s.makeKey("conductor", ringGroup)
	ok, err := claimScript.Run(ctx, s.client, []string{key},
		claim.Token, string(mode), claim.ClaimedAt.Unix(), s.ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to claim conductor: %w", err)
	}
	if ok == 0 {
		return nil, ErrConductorClaimed
	}

	if s.ttl > 0 {
		s.startRenewal(key, claim)
	}
	return claim, nil
}

// Release deletes the claim if it still carries the caller's token
func (s *RedisClaimStore) Release(ctx context.Context, claim *model.ConductorClaim) error {
	if claim == nil {
		return ErrClaimNotHeld
	}
	s.stopRenewal(claim.Token)

	key := s.makeKey("conductor", claim.RingGroup)
	deleted, err := releaseScript.Run(ctx, s.client, []string{key}, claim.Token).Int()
	if err != nil {
		return fmt.Errorf("failed to release conductor: %w", err)
	}
	if deleted == 0 {
		return ErrClaimNotHeld
	}
	return nil
}

// Holder returns the mode of the live claim
func (s *RedisClaimStore) Holder(ctx context.Context, ringGroup string) (model.ConductorMode, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.makeKey("conductor", ringGroup)).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to read conductor claim: %w", err)
	}
	if len(fields) == 0 {
		return model.ConductorModeInactive, false, nil
	}
	mode, err := model.ParseConductorMode(fields["mode"])
	if err != nil {
		return "", false, err
	}
	return mode, true, nil
}

// SetMode changes the mode of the live claim
func (s *RedisClaimStore) SetMode(ctx context.Context, ringGroup string, mode model.ConductorMode) error {
	updated, err := setModeScript.Run(ctx, s.client, []string{s.makeKey("conductor", ringGroup)}, string(mode)).Int()
	if err != nil {
		return fmt.Errorf("failed to set conductor mode: %w", err)
	}
	if updated == 0 {
		return ErrClaimNotHeld
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisClaimStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close stops renewals and closes the Redis client
func (s *RedisClaimStore) Close() error {
	s.mu.Lock()
	for token, cancel := range s.renewal {
		cancel()
		delete(s.renewal, token)
	}
	s.mu.Unlock()
	return s.client.Close()
}

// startRenewal extends the claim's TTL until stopRenewal is called. The claim
// is marked lost when its key no longer carries the token, or when no renewal
// has succeeded for a full TTL.
func (s *RedisClaimStore) startRenewal(key string, claim *model.ConductorClaim) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.renewal[claim.Token] = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.ttl / 3)
		defer ticker.Stop()
		lastRenewed := time.Now()

		for {
			select {
			case <-ticker.C:
				renewed, err := renewScript.Run(ctx, s.client, []string{key}, claim.Token, s.ttl.Milliseconds()).Int()
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					if time.Since(lastRenewed) >= s.ttl {
						s.logger.Error("Conductor claim expired while renewal was failing",
							zap.String("key", key),
							zap.Error(err))
						claim.MarkLost()
						return
					}
					s.logger.Warn("Failed to renew conductor claim",
						zap.String("key", key),
						zap.Error(err))
					continue
				}
				if renewed == 0 {
					s.logger.Error("Conductor claim lost before release",
						zap.String("key", key))
					claim.MarkLost()
					return
				}
				lastRenewed = time.Now()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *RedisClaimStore) stopRenewal(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.renewal[token]; ok {
		cancel()
		delete(s.renewal, token)
	}
}
