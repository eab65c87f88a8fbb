package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/anatolio-deb/joinbot/internal/request"
)

type RequestStore struct {
	db *gorm.DB
}

func NewRequestStore(db *gorm.DB) *RequestStore {
	return &RequestStore{db: db}
}

func (s *RequestStore) ReplaceActive(ctx context.Context, req request.Request) (*request.Request, error) {
	var superseded *request.Request
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockKey(tx, fmt.Sprintf("request:%d", req.PrincipalID)); err != nil {
			return err
		}

		var prev Request
		err := tx.Where("principal_id = ? AND status IN ?", req.PrincipalID, openStatuses).Take(&prev).Error
		switch {
		case err == nil:
			old := prev.toDomain()
			superseded = &old
			if err := tx.Delete(&Request{}, "id = ?", prev.ID).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		m := requestFromDomain(req)
		return tx.Create(&m).Error
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

func (s *RequestStore) Active(ctx context.Context, principalID int64) (request.Request, error) {
	var row Request
	err := s.db.WithContext(ctx).
		Where("principal_id = ? AND status IN ?", principalID, openStatuses).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return request.Request{}, request.ErrNotFound
	}
	if err != nil {
		return request.Request{}, err
	}
	return row.toDomain(), nil
}

func (s *RequestStore) Get(ctx context.Context, id string) (request.Request, error) {
	var row Request
	err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return request.Request{}, request.ErrNotFound
	}
	if err != nil {
		return request.Request{}, err
	}
	return row.toDomain(), nil
}

func (s *RequestStore) Update(ctx context.Context, id string, fn request.UpdateFunc) (request.Request, error) {
	var out request.Request
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Request
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&row, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return request.ErrNotFound
		}
		if err != nil {
			return err
		}

		next := row.toDomain()
		if err := fn(&next); err != nil {
			return err
		}
		next.ID, next.PrincipalID = row.ID, row.PrincipalID

		m := requestFromDomain(next)
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return request.Request{}, err
	}
	return out, nil
}
