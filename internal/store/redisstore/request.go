package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anatolio-deb/joinbot/internal/request"
)

type requestRecord struct {
	ID          string         `json:"id"`
	PrincipalID int64          `json:"principal_id"`
	PlanID      string         `json:"plan_id"`
	Reference   string         `json:"reference,omitempty"`
	ReceiptRef  string         `json:"receipt_ref,omitempty"`
	Status      request.Status `json:"status"`
	SubmittedAt time.Time      `json:"submitted_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func decodeRequest(raw []byte) (request.Request, error) {
	var rec requestRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return request.Request{}, fmt.Errorf("decode request: %w", err)
	}
	return request.Request(rec), nil
}

type RequestStore struct {
	client redis.UniversalClient
	keys   keys
}

func NewRequestStore(client redis.UniversalClient, prefix string) *RequestStore {
	return &RequestStore{client: client, keys: newKeys(prefix)}
}

func (s *RequestStore) ReplaceActive(ctx context.Context, req request.Request) (*request.Request, error) {
	activeKey := s.keys.active(req.PrincipalID)
	data, err := json.Marshal(requestRecord(req))
	if err != nil {
		return nil, err
	}

	var superseded *request.Request
	txf := func(tx *redis.Tx) error {
		superseded = nil

		prevID, err := tx.Get(ctx, activeKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if prevID != "" {
			raw, err := tx.Get(ctx, s.keys.request(prevID)).Bytes()
			switch {
			case err == nil:
				prev, err := decodeRequest(raw)
				if err != nil {
					return err
				}
				superseded = &prev
			case errors.Is(err, redis.Nil):
			default:
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prevID != "" {
				pipe.Del(ctx, s.keys.request(prevID))
			}
			pipe.Set(ctx, s.keys.request(req.ID), data, 0)
			if req.Status.Terminal() {
				pipe.Del(ctx, activeKey)
			} else {
				pipe.Set(ctx, activeKey, req.ID, 0)
			}
			return nil
		})
		return err
	}

	if err := watch(ctx, s.client, txf, activeKey); err != nil {
		return nil, err
	}
	return superseded, nil
}

func (s *RequestStore) Active(ctx context.Context, principalID int64) (request.Request, error) {
	id, err := s.client.Get(ctx, s.keys.active(principalID)).Result()
	if errors.Is(err, redis.Nil) {
		return request.Request{}, request.ErrNotFound
	}
	if err != nil {
		return request.Request{}, err
	}
	return s.Get(ctx, id)
}

func (s *RequestStore) Get(ctx context.Context, id string) (request.Request, error) {
	raw, err := s.client.Get(ctx, s.keys.request(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return request.Request{}, request.ErrNotFound
	}
	if err != nil {
		return request.Request{}, err
	}
	return decodeRequest(raw)
}

func (s *RequestStore) Update(ctx context.Context, id string, fn request.UpdateFunc) (request.Request, error) {
	key := s.keys.request(id)

	var out request.Request
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return request.ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeRequest(raw)
		if err != nil {
			return err
		}

		activeKey := s.keys.active(cur.PrincipalID)
		if err := tx.Watch(ctx, activeKey).Err(); err != nil {
			return err
		}
		activeID, err := tx.Get(ctx, activeKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		next := cur
		if err := fn(&next); err != nil {
			return err
		}
		next.ID, next.PrincipalID = cur.ID, cur.PrincipalID
		data, err := json.Marshal(requestRecord(next))
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			switch {
			case next.Status.Terminal() && activeID == id:
				pipe.Del(ctx, activeKey)
			case !next.Status.Terminal() && activeID == "":
				pipe.Set(ctx, activeKey, id, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}

	if err := watch(ctx, s.client, txf, key); err != nil {
		return request.Request{}, err
	}
	return out, nil
}
