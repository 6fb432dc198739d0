// Package rls binds the current account to a postgres transaction so that
// row level security policies on account tables can filter by it.
package rls

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// WithAccount must run inside a transaction. It is a no-op on other dialects.
func WithAccount(tx *gorm.DB, accountID snowflake.ID) error {
	if tx == nil || tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(
		"SELECT set_config('app.current_account_id', ?, true)",
		fmt.Sprintf("%d", int64(accountID)),
	).Error
}
