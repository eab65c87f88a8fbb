package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/request"
	"github.com/anatolio-deb/joinbot/internal/store/storetest"
)

const isolatedTestRedisDB = 14

// testClient connects to TEST_REDIS_ADDR on an isolated database and flushes
// it. Tests are skipped when the variable is not set.
func testClient(t *testing.T) redis.UniversalClient {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("TEST_REDIS_PASSWORD"),
		DB:       isolatedTestRedisDB,
	})
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLedgerStore(t *testing.T) {
	storetest.RunLedgerSuite(t, func(t *testing.T) ledger.Store {
		return NewLedgerStore(testClient(t), "joinbot-test")
	})
}

func TestRequestStore(t *testing.T) {
	storetest.RunRequestSuite(t, func(t *testing.T) request.Store {
		return NewRequestStore(testClient(t), "joinbot-test")
	})
}

func TestKeys(t *testing.T) {
	k := newKeys(" custom: ")
	assert.Equal(t, "custom:sub:42", k.subscription(42))
	assert.Equal(t, "custom:subs", k.subscriptionIndex())
	assert.Equal(t, "custom:req:abc", k.request("abc"))
	assert.Equal(t, "custom:active:42", k.active(42))

	assert.Equal(t, DefaultPrefix+":subs", newKeys("").subscriptionIndex())
}
