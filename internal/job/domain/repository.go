package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository persists jobs. Account-facing reads and writes are scoped by
// accountID; LeaseNext and ListExpired operate on the whole queue.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, accountID, id snowflake.ID) (*Job, error)
	ListRecent(ctx context.Context, accountID snowflake.ID, limit int) ([]Job, error)
	ListByStatus(ctx context.Context, accountID snowflake.ID, status string, limit int) ([]Job, error)
	CountByStatus(ctx context.Context, accountID snowflake.ID) (map[string]int64, error)

	CancelQueued(ctx context.Context, accountID, id snowflake.ID, now time.Time) (bool, error)
	RequestCancel(ctx context.Context, accountID, id snowflake.ID, now time.Time) (bool, error)
	Requeue(ctx context.Context, accountID, id snowflake.ID, now time.Time) (bool, error)

	// LeaseNext claims the oldest runnable job of an account that has no job
	// in processing and no older queued job. It returns nil when nothing is
	// runnable or the claim lost a race.
	LeaseNext(ctx context.Context, lease Lease) (*Job, error)
	Heartbeat(ctx context.Context, accountID, id snowflake.ID, owner string, leaseUntil, now time.Time) (bool, bool, error)
	SaveRefs(ctx context.Context, accountID, id snowflake.ID, owner string, refs datatypes.JSON, now time.Time) (bool, error)
	Finish(ctx context.Context, accountID, id snowflake.ID, owner string, update Finish) (bool, error)

	ListExpired(ctx context.Context, now time.Time, limit int) ([]Job, error)
	// Reap transitions one stale processing job. The CAS only matches while
	// the lease is still expired.
	Reap(ctx context.Context, job Job, update Finish) (bool, error)
}

type Lease struct {
	Owner           string
	Now             time.Time
	Until           time.Time
	ExcludeAccounts []snowflake.ID
}

// Finish moves a processing job to its next status.
type Finish struct {
	Status       string
	Now          time.Time
	AvailableAt  *time.Time
	Attempts     *int
	ErrorKind    string
	ErrorCode    string
	ErrorMessage string
	Refs         datatypes.JSON
}
