package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RaghavMadan07/Agri/internal/ids"
	"github.com/RaghavMadan07/Agri/internal/submission"
)

var _ submission.Store = (*Store)(nil)

const submissionColumns = `id, user_id, original_filename, storage_path, latitude, longitude,
	growth_stage, status, analysis_result_json, created_at, updated_at`

func (s *Store) Create(ctx context.Context, sub *submission.Submission) error {
	if sub.ID == "" {
		sub.ID = ids.New()
	}
	sub.Status = submission.StatusReceived
	sub.AnalysisResult = nil
	err := s.db.QueryRowContext(ctx, `
		insert into submissions(id, user_id, original_filename, storage_path, latitude, longitude, growth_stage, status)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		returning created_at, updated_at
	`, sub.ID, sub.UserID, sub.OriginalFilename, sub.StoragePath, sub.Latitude, sub.Longitude,
		string(sub.GrowthStage), string(submission.StatusReceived),
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (submission.Submission, error) {
	row := s.db.QueryRowContext(ctx, `select `+submissionColumns+` from submissions where id=$1`, id)
	return scanSubmission(row)
}

func (s *Store) FindOwned(ctx context.Context, id, userID string) (submission.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+submissionColumns+` from submissions where id=$1 and user_id=$2`, id, userID)
	return scanSubmission(row)
}

// Transition is a single conditional update; the status guard in the where
// clause keeps terminal rows immutable under concurrent workers.
func (s *Store) Transition(ctx context.Context, id string, from, to submission.Status, result json.RawMessage) error {
	if err := submission.CheckTransition(from, to, result); err != nil {
		return err
	}
	var payload any
	if len(result) > 0 {
		payload = string(result)
	}
	res, err := s.db.ExecContext(ctx, `
		update submissions
		set status=$1, analysis_result_json=coalesce($2::jsonb, analysis_result_json), updated_at=now()
		where id=$3 and status=$4
	`, string(to), payload, id, string(from))
	if err != nil {
		return fmt.Errorf("update submission %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `select status from submissions where id=$1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return submission.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, not %s", submission.ErrInvalidTransition, id, current, from)
}

func (s *Store) ListStale(ctx context.Context, cutoff time.Time, maxRepublish, limit int) ([]submission.Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+submissionColumns+`
		from submissions
		where status=$1 and updated_at < $2 and ($3::int <= 0 or republish_count < $3::int)
		order by updated_at asc, id asc
		limit $4
	`, string(submission.StatusReceived), cutoff, maxRepublish, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []submission.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// MarkRepublished is conditional on the row still being RECEIVED and
// untouched since cutoff, so two sweepers cannot claim the same row.
func (s *Store) MarkRepublished(ctx context.Context, id string, cutoff time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		update submissions
		set republish_count=republish_count+1, updated_at=now()
		where id=$1 and status=$2 and updated_at < $3
		returning republish_count
	`, id, string(submission.StatusReceived), cutoff).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", submission.ErrNotStale, id)
	}
	if err != nil {
		return 0, fmt.Errorf("mark submission %s republished: %w", id, err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (submission.Submission, error) {
	var (
		sub    submission.Submission
		stage  string
		status string
		result []byte
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.OriginalFilename, &sub.StoragePath, &sub.Latitude, &sub.Longitude,
		&stage, &status, &result, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return submission.Submission{}, submission.ErrNotFound
	}
	if err != nil {
		return submission.Submission{}, err
	}
	if sub.Status, err = submission.ParseStatus(status); err != nil {
		return submission.Submission{}, err
	}
	sub.GrowthStage = submission.GrowthStage(stage)
	if len(result) > 0 {
		sub.AnalysisResult = json.RawMessage(result)
	}
	return sub, nil
}
