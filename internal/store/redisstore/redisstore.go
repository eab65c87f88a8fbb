// Package redisstore keeps the ledger and the request tracker in Redis.
// Per-key atomicity comes from optimistic WATCH/MULTI transactions.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "joinbot"

	// maxTxRetries bounds how often a transaction is retried after another
	// client touched a watched key.
	maxTxRetries = 64
)

// ErrContention is returned when a transaction kept losing to concurrent
// writers.
var ErrContention = errors.New("redis transaction contention")

type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return keys{prefix: prefix}
}

func (k keys) subscription(principalID int64) string {
	return fmt.Sprintf("%s:sub:%d", k.prefix, principalID)
}

func (k keys) subscriptionIndex() string {
	return k.prefix + ":subs"
}

func (k keys) request(id string) string {
	return k.prefix + ":req:" + id
}

func (k keys) active(principalID int64) string {
	return fmt.Sprintf("%s:active:%d", k.prefix, principalID)
}

// watch runs txf under WATCH on watched, retrying when the transaction is
// invalidated by a concurrent writer.
func watch(ctx context.Context, client redis.UniversalClient, txf func(*redis.Tx) error, watched ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := client.Watch(ctx, txf, watched...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w on %s", ErrContention, strings.Join(watched, ","))
}
