package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/anatolio-deb/joinbot/internal/ledger"
)

type LedgerStore struct {
	db *gorm.DB
}

func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Get(ctx context.Context, principalID int64) (ledger.Subscription, error) {
	var row Subscription
	err := s.db.WithContext(ctx).Take(&row, "principal_id = ?", principalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Subscription{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Subscription{}, err
	}
	return row.toDomain(), nil
}

func (s *LedgerStore) Update(ctx context.Context, principalID int64, fn ledger.UpdateFunc) (*ledger.Subscription, error) {
	var out *ledger.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockKey(tx, fmt.Sprintf("ledger:%d", principalID)); err != nil {
			return err
		}

		var (
			row Subscription
			cur *ledger.Subscription
		)
		err := tx.Take(&row, "principal_id = ?", principalID).Error
		switch {
		case err == nil:
			sub := row.toDomain()
			cur = &sub
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			if cur == nil {
				return nil
			}
			return tx.Delete(&Subscription{}, "principal_id = ?", principalID).Error
		}

		next.PrincipalID = principalID
		m := subscriptionFromDomain(*next)
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error; err != nil {
			return err
		}
		saved := m.toDomain()
		out = &saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LedgerStore) List(ctx context.Context) ([]ledger.Subscription, error) {
	var rows []Subscription
	if err := s.db.WithContext(ctx).Order("principal_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	subs := make([]ledger.Subscription, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, row.toDomain())
	}
	return subs, nil
}
