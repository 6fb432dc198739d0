package db

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ErrMissingAccount is returned when a scoped query is attempted without an account.
var ErrMissingAccount = errors.New("account scope is required")

// AccountOwned is implemented by every model carrying an account_id column.
type AccountOwned interface {
	OwnerAccountID() snowflake.ID
}

// AccountScope restricts a query to rows of one account.
func AccountScope(accountID snowflake.ID) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("account_id = ?", accountID)
	}
}

// QueryOption tweaks a scoped query.
type QueryOption func(*gorm.DB) *gorm.DB

func OrderBy(clause string) QueryOption {
	return func(tx *gorm.DB) *gorm.DB { return tx.Order(clause) }
}

func Limit(n int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if n <= 0 {
			return tx
		}
		return tx.Limit(n)
	}
}

func Offset(n int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if n <= 0 {
			return tx
		}
		return tx.Offset(n)
	}
}

// Store is a generic repository whose every query carries account_id.
type Store[T AccountOwned] struct {
	db *gorm.DB
}

func NewStore[T AccountOwned](db *gorm.DB) *Store[T] {
	return &Store[T]{db: db}
}

func (s *Store[T]) WithTx(tx *gorm.DB) *Store[T] {
	return &Store[T]{db: tx}
}

func (s *Store[T]) scoped(ctx context.Context, accountID snowflake.ID) (*gorm.DB, error) {
	if accountID == 0 {
		return nil, ErrMissingAccount
	}
	var model T
	return s.db.WithContext(ctx).Model(&model).Scopes(AccountScope(accountID)), nil
}

func (s *Store[T]) Find(ctx context.Context, accountID snowflake.ID, filter map[string]any, opts ...QueryOption) ([]T, error) {
	stmt, err := s.scoped(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(filter) > 0 {
		stmt = stmt.Where(filter)
	}
	for _, opt := range opts {
		stmt = opt(stmt)
	}
	var out []T
	if err := stmt.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindByID returns nil when the row does not exist in the account.
func (s *Store[T]) FindByID(ctx context.Context, accountID, id snowflake.ID) (*T, error) {
	stmt, err := s.scoped(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var out T
	if err := stmt.Where("id = ?", id).Take(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (s *Store[T]) Create(ctx context.Context, row *T) error {
	if row == nil {
		return errors.New("nil row")
	}
	if (*row).OwnerAccountID() == 0 {
		return ErrMissingAccount
	}
	return s.db.WithContext(ctx).Create(row).Error
}

// Update applies fields to one row and reports whether it existed in the account.
func (s *Store[T]) Update(ctx context.Context, accountID, id snowflake.ID, fields map[string]any) (bool, error) {
	stmt, err := s.scoped(ctx, accountID)
	if err != nil {
		return false, err
	}
	delete(fields, "account_id")
	res := stmt.Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store[T]) Count(ctx context.Context, accountID snowflake.ID, filter map[string]any) (int64, error) {
	stmt, err := s.scoped(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if len(filter) > 0 {
		stmt = stmt.Where(filter)
	}
	var count int64
	err = stmt.Count(&count).Error
	return count, err
}
