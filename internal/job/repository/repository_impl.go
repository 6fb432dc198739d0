package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/job/domain"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repository struct {
	db   *gorm.DB
	jobs *db.Store[domain.Job]
}

func NewRepository(conn *gorm.DB) domain.Repository {
	return &repository{db: conn, jobs: db.NewStore[domain.Job](conn)}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return NewRepository(tx)
}

func (r *repository) Create(ctx context.Context, job *domain.Job) error {
	return r.jobs.Create(ctx, job)
}

func (r *repository) Get(ctx context.Context, accountID, id snowflake.ID) (*domain.Job, error) {
	return r.jobs.FindByID(ctx, accountID, id)
}

func (r *repository) ListRecent(ctx context.Context, accountID snowflake.ID, limit int) ([]domain.Job, error) {
	return r.jobs.Find(ctx, accountID, nil, db.OrderBy("created_at DESC, id DESC"), db.Limit(limit))
}

func (r *repository) ListByStatus(ctx context.Context, accountID snowflake.ID, status string, limit int) ([]domain.Job, error) {
	return r.jobs.Find(ctx, accountID, map[string]any{"status": status},
		db.OrderBy("created_at DESC, id DESC"),
		db.Limit(limit),
	)
}

func (r *repository) CountByStatus(ctx context.Context, accountID snowflake.ID) (map[string]int64, error) {
	if accountID == 0 {
		return nil, db.ErrMissingAccount
	}
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Select("status, COUNT(*) AS total").
		Where("account_id = ?", accountID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func (r *repository) CancelQueued(ctx context.Context, accountID, id snowflake.ID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND account_id = ? AND status = ?", id, accountID, domain.StatusQueued).
		Updates(map[string]any{
			"status":      domain.StatusCancelled,
			"finished_at": now,
			"updated_at":  now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) RequestCancel(ctx context.Context, accountID, id snowflake.ID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND account_id = ? AND status = ?", id, accountID, domain.StatusProcessing).
		Updates(map[string]any{
			"cancel_requested": true,
			"updated_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) Requeue(ctx context.Context, accountID, id snowflake.ID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND account_id = ? AND status IN ?", id, accountID, []string{domain.StatusFailed, domain.StatusCancelled}).
		Updates(map[string]any{
			"status":             domain.StatusQueued,
			"attempts":           0,
			"available_at":       now,
			"cancel_requested":   false,
			"lease_owner":        nil,
			"lease_expires_at":   nil,
			"finished_at":        nil,
			"last_error_kind":    nil,
			"last_error_code":    nil,
			"last_error_message": nil,
			"updated_at":         now,
		})
	return res.RowsAffected == 1, res.Error
}

const leaseCandidateSQL = `
SELECT j.id FROM jobs j
WHERE j.status = 'queued'
  AND j.available_at <= ?
  AND NOT EXISTS (
    SELECT 1 FROM jobs p
    WHERE p.account_id = j.account_id AND p.status = 'processing'
  )
  AND NOT EXISTS (
    SELECT 1 FROM jobs e
    WHERE e.account_id = j.account_id
      AND e.status = 'queued'
      AND (e.created_at < j.created_at OR (e.created_at = j.created_at AND e.id < j.id))
  )`

func (r *repository) LeaseNext(ctx context.Context, lease domain.Lease) (*domain.Job, error) {
	var leased *domain.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := leaseCandidateSQL
		args := []any{lease.Now}
		if len(lease.ExcludeAccounts) > 0 {
			query += " AND j.account_id NOT IN ?"
			args = append(args, lease.ExcludeAccounts)
		}
		query += " ORDER BY j.created_at ASC, j.id ASC LIMIT 1"
		if db.IsPostgres(tx) {
			query += " FOR UPDATE SKIP LOCKED"
		}

		var ids []snowflake.ID
		if err := tx.Raw(query, args...).Scan(&ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		owner := lease.Owner
		res := tx.Model(&domain.Job{}).
			Where("id = ? AND status = ?", ids[0], domain.StatusQueued).
			Where("NOT EXISTS (SELECT 1 FROM jobs p WHERE p.account_id = jobs.account_id AND p.status = ?)", domain.StatusProcessing).
			Updates(map[string]any{
				"status":           domain.StatusProcessing,
				"lease_owner":      owner,
				"lease_expires_at": lease.Until,
				"attempts":         gorm.Expr("attempts + 1"),
				"started_at":       gorm.Expr("COALESCE(started_at, ?)", lease.Now),
				"updated_at":       lease.Now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}

		var job domain.Job
		if err := tx.Where("id = ?", ids[0]).Take(&job).Error; err != nil {
			return err
		}
		leased = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

func (r *repository) Heartbeat(ctx context.Context, accountID, id snowflake.ID, owner string, leaseUntil, now time.Time) (bool, bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND account_id = ? AND status = ? AND lease_owner = ?", id, accountID, domain.StatusProcessing, owner).
		Updates(map[string]any{
			"lease_expires_at": leaseUntil,
			"updated_at":       now,
		})
	if res.Error != nil {
		return false, false, res.Error
	}
	if res.RowsAffected != 1 {
		return false, false, nil
	}

	var flag struct{ CancelRequested bool }
	err := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Select("cancel_requested").
		Where("id = ? AND account_id = ?", id, accountID).
		Take(&flag).Error
	if err != nil {
		return true, false, err
	}
	return true, flag.CancelRequested, nil
}

func (r *repository) SaveRefs(ctx context.Context, accountID, id snowflake.ID, owner string, refs datatypes.JSON, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND account_id = ? AND status = ? AND lease_owner = ?", id, accountID, domain.StatusProcessing, owner).
		Updates(map[string]any{
			"result_refs": refs,
			"updated_at":  now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) Finish(ctx context.Context, accountID, id snowflake.ID, owner string, update domain.Finish) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND account_id = ? AND status = ? AND lease_owner = ?", id, accountID, domain.StatusProcessing, owner).
		Updates(finishFields(update))
	return res.RowsAffected == 1, res.Error
}

func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []domain.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND lease_expires_at < ?", domain.StatusProcessing, now).
		Order("lease_expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) Reap(ctx context.Context, job domain.Job, update domain.Finish) (bool, error) {
	if job.LeaseOwner == nil {
		return false, errors.New("reap requires the stale lease owner")
	}
	res := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ? AND lease_owner = ? AND lease_expires_at < ?", job.ID, domain.StatusProcessing, *job.LeaseOwner, update.Now).
		Updates(finishFields(update))
	return res.RowsAffected == 1, res.Error
}

func finishFields(update domain.Finish) map[string]any {
	fields := map[string]any{
		"status":           update.Status,
		"lease_owner":      nil,
		"lease_expires_at": nil,
		"updated_at":       update.Now,
	}
	if domain.IsTerminal(update.Status) {
		fields["finished_at"] = update.Now
	}
	if update.AvailableAt != nil {
		fields["available_at"] = *update.AvailableAt
	}
	if update.Attempts != nil {
		fields["attempts"] = *update.Attempts
	}
	if update.ErrorKind != "" || update.ErrorMessage != "" {
		fields["last_error_kind"] = update.ErrorKind
		fields["last_error_code"] = update.ErrorCode
		fields["last_error_message"] = update.ErrorMessage
	}
	if update.Refs != nil {
		fields["result_refs"] = update.Refs
	}
	return fields
}
