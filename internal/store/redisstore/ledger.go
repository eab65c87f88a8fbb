package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anatolio-deb/joinbot/internal/ledger"
)

type subscriptionRecord struct {
	PrincipalID int64     `json:"principal_id"`
	ChatID      int64     `json:"chat_id"`
	PlanID      string    `json:"plan_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	RemindedFor time.Time `json:"reminded_for"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func decodeSubscription(raw []byte) (ledger.Subscription, error) {
	var rec subscriptionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ledger.Subscription{}, fmt.Errorf("decode subscription: %w", err)
	}
	return ledger.Subscription(rec), nil
}

type LedgerStore struct {
	client redis.UniversalClient
	keys   keys
}

func NewLedgerStore(client redis.UniversalClient, prefix string) *LedgerStore {
	return &LedgerStore{client: client, keys: newKeys(prefix)}
}

func (s *LedgerStore) Get(ctx context.Context, principalID int64) (ledger.Subscription, error) {
	raw, err := s.client.Get(ctx, s.keys.subscription(principalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ledger.Subscription{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Subscription{}, err
	}
	return decodeSubscription(raw)
}

func (s *LedgerStore) Update(ctx context.Context, principalID int64, fn ledger.UpdateFunc) (*ledger.Subscription, error) {
	key := s.keys.subscription(principalID)

	var out *ledger.Subscription
	txf := func(tx *redis.Tx) error {
		out = nil

		var cur *ledger.Subscription
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			sub, err := decodeSubscription(raw)
			if err != nil {
				return err
			}
			cur = &sub
		case errors.Is(err, redis.Nil):
		default:
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil && cur == nil {
			return nil
		}

		var data []byte
		if next != nil {
			next.PrincipalID = principalID
			if data, err = json.Marshal(subscriptionRecord(*next)); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.keys.subscriptionIndex(), principalID)
				return nil
			}
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.keys.subscriptionIndex(), principalID)
			return nil
		})
		if err != nil {
			return err
		}
		if next != nil {
			saved := *next
			out = &saved
		}
		return nil
	}

	if err := watch(ctx, s.client, txf, key); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LedgerStore) List(ctx context.Context) ([]ledger.Subscription, error) {
	members, err := s.client.SMembers(ctx, s.keys.subscriptionIndex()).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("subscription index: bad member %q: %w", m, err)
		}
		keys = append(keys, s.keys.subscription(id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	subs := make([]ledger.Subscription, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}
		sub, err := decodeSubscription([]byte(raw))
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
