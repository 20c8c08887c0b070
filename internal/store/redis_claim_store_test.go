package store

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/devrev/ringconductor/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestRedisClaimStore connects to the Redis named by TEST_REDIS_HOST,
// skipping the test when it is unset
func newTestRedisClaimStore(t *testing.T, ttl time.Duration) *RedisClaimStore {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		t.Skip("TEST_REDIS_HOST not set")
	}

	port := 6379
	if p, err := strconv.Atoi(os.Getenv("TEST_REDIS_PORT")); err == nil {
		port = p
	}
	client, err := NewRedisClient(context.Background(), RedisOptions{
		Host:         host,
		Port:         port,
		MaxRetries:   1,
		RetryBackoff: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	s := NewRedisClaimStore(client, "ringconductor-test-"+uniqueGroupName(), ttl, zap.NewNop())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisClaimStore_ConductorClaims(t *testing.T) {
	claims := newTestRedisClaimStore(t, 0)
	entities := NewMemoryStore(zap.NewNop())
	composite := WithClaimStore(entities, claims)

	testConductorClaims(t, composite, adminOver(entities, composite))
}

func TestRedisClaimStore_ClaimOutlivesTTLWhileRenewed(t *testing.T) {
	s := newTestRedisClaimStore(t, 300*time.Millisecond)
	ctx := context.Background()

	claim, err := s.Claim(ctx, "search", model.ConductorModeActive)
	require.NoError(t, err)

	time.Sleep(time.Second)

	mode, held, err := s.Holder(ctx, "search")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, model.ConductorModeActive, mode)

	require.NoError(t, s.Release(ctx, claim))
	_, held, err = s.Holder(ctx, "search")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRedisClaimStore_UnrenewedClaimExpires(t *testing.T) {
	s := newTestRedisClaimStore(t, 300*time.Millisecond)
	ctx := context.Background()

	claim, err := s.Claim(ctx, "search", model.ConductorModeActive)
	require.NoError(t, err)
	s.stopRenewal(claim.Token)

	time.Sleep(time.Second)

	_, held, err := s.Holder(ctx, "search")
	require.NoError(t, err)
	assert.False(t, held)
	assert.ErrorIs(t, s.Release(ctx, claim), ErrClaimNotHeld)
}

// fakeRedisClient answers the claim scripts without a Redis server. renew
// decides the outcome of each renewal, numbered from 1.
type fakeRedisClient struct {
	mu       sync.Mutex
	renewals int
	renew    func(call int) (int64, error)
}

func (f *fakeRedisClient) Renewals() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renewals
}

func (f *fakeRedisClient) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	switch sha1 {
	case claimScript.Hash(), releaseScript.Hash():
		return redis.NewCmdResult(int64(1), nil)
	case renewScript.Hash():
		f.mu.Lock()
		f.renewals++
		call := f.renewals
		f.mu.Unlock()
		val, err := f.renew(call)
		return redis.NewCmdResult(val, err)
	}
	return redis.NewCmdResult(nil, errors.New("unexpected script"))
}

func (f *fakeRedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, errors.New("unexpected EVAL"))
}

func (f *fakeRedisClient) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, errors.New("unexpected EVAL_RO"))
}

func (f *fakeRedisClient) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, errors.New("unexpected EVALSHA_RO"))
}

func (f *fakeRedisClient) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeRedisClient) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", errors.New("unexpected SCRIPT LOAD"))
}

func (f *fakeRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedisClient) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	return redis.NewMapStringStringResult(map[string]string{}, nil)
}

func (f *fakeRedisClient) Close() error { return nil }

func waitLost(t *testing.T, claim *model.ConductorClaim) {
	t.Helper()
	select {
	case <-claim.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("claim was not marked lost")
	}
}

func TestRedisClaimStore_TakenOverClaimIsMarkedLost(t *testing.T) {
	client := &fakeRedisClient{renew: func(call int) (int64, error) { return 0, nil }}
	s := NewRedisClaimStore(client, "", 30*time.Millisecond, zap.NewNop())
	defer s.Close()

	claim, err := s.Claim(context.Background(), "search", model.ConductorModeActive)
	require.NoError(t, err)

	waitLost(t, claim)
	assert.Equal(t, 1, client.Renewals())
}

func TestRedisClaimStore_RenewalFailingForTTLMarksClaimLost(t *testing.T) {
	client := &fakeRedisClient{renew: func(call int) (int64, error) {
		return 0, errors.New("connection refused")
	}}
	s := NewRedisClaimStore(client, "", 30*time.Millisecond, zap.NewNop())
	defer s.Close()

	claim, err := s.Claim(context.Background(), "search", model.ConductorModeActive)
	require.NoError(t, err)

	waitLost(t, claim)
	assert.GreaterOrEqual(t, client.Renewals(), 2)
}

func TestRedisClaimStore_TransientRenewalFailureKeepsClaim(t *testing.T) {
	client := &fakeRedisClient{renew: func(call int) (int64, error) {
		if call == 1 {
			return 0, errors.New("i/o timeout")
		}
		return 1, nil
	}}
	s := NewRedisClaimStore(client, "", 90*time.Millisecond, zap.NewNop())
	defer s.Close()

	claim, err := s.Claim(context.Background(), "search", model.ConductorModeActive)
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	assert.False(t, claim.IsLost())
	assert.GreaterOrEqual(t, client.Renewals(), 3)

	require.NoError(t, s.Release(context.Background(), claim))
	renewals := client.Renewals()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, renewals, client.Renewals())
	assert.False(t, claim.IsLost())
}

func TestRedisClaimStore_UnexpiringClaimIsNotRenewed(t *testing.T) {
	client := &fakeRedisClient{renew: func(call int) (int64, error) { return 0, nil }}
	s := NewRedisClaimStore(client, "", 0, zap.NewNop())
	defer s.Close()

	claim, err := s.Claim(context.Background(), "search", model.ConductorModeActive)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, claim.IsLost())
	assert.Zero(t, client.Renewals())
}

func TestNewRedisClient_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := NewRedisClient(ctx, RedisOptions{
		Host:         "127.0.0.1",
		Port:         1,
		MaxRetries:   10,
		RetryBackoff: time.Minute,
	}, zap.NewNop())

	assert.Error(t, err)
	assert.True(t, time.Since(start) < 5*time.Second)
}
