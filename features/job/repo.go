package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Transition(ctx context.Context, id string, from, to Status) error
	Fail(ctx context.Context, id, reason string) error
	ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]string, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const uniqueViolation = "23505"

// Create inserts the job in Preparing and fills in the timestamps.
func (r *PostgresRepo) Create(ctx context.Context, j *Job) error {
	query := `INSERT INTO jobs (id, kind, status, param, owner, in_ref, out_ref) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`
	j.Status = StatusPreparing
	owner := sql.NullString{String: j.Owner, Valid: j.Owner != ""}
	err := r.db.QueryRowContext(ctx, query, j.ID, string(j.Kind), string(j.Status), string(j.Param), owner, j.InRef, j.OutRef).
		Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicated, j.ID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	j := &Job{}
	var (
		param  []byte
		owner  sql.NullString
		reason sql.NullString
	)
	query := `SELECT id, kind, status, param, owner, in_ref, out_ref, failed_reason, created_at, updated_at FROM jobs WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&j.ID, &j.Kind, &j.Status, &param, &owner, &j.InRef, &j.OutRef, &reason, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	j.Param = json.RawMessage(param)
	j.Owner = owner.String
	j.FailedReason = reason.String
	return j, nil
}

// Transition moves the job from -> to only if its stored status is still from.
// Zero affected rows is reported as ErrNotFound or ErrConflict.
func (r *PostgresRepo) Transition(ctx context.Context, id string, from, to Status) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	query := `UPDATE jobs SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("transition job %s -> %s: %w", from, to, err)
	}
	return r.checkAffected(ctx, res, id, from, to)
}

// Fail moves a Processing job to Failed and records the reason.
func (r *PostgresRepo) Fail(ctx context.Context, id, reason string) error {
	query := `UPDATE jobs SET status = $1, failed_reason = $2, updated_at = NOW() WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, string(StatusFailed), reason, id, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return r.checkAffected(ctx, res, id, StatusProcessing, StatusFailed)
}

func (r *PostgresRepo) checkAffected(ctx context.Context, res sql.Result, id string, from, to Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s is not %s (wanted %s)", ErrConflict, id, from, to)
}

// ListStale returns ids of jobs that have sat in status since before the cutoff.
func (r *PostgresRepo) ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]string, error) {
	query := `SELECT id FROM jobs WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, string(status), before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	query := `SELECT status, COUNT(*) FROM jobs GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			s Status
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}
