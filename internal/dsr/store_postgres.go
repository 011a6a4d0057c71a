package dsr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custodia/pkg/domain"
	"custodia/pkg/sentinel"
	txcontext "custodia/pkg/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, req Request) error {
	exec := txcontext.Resolve(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO dsr_requests (
			id, subject_id, type, status, submitted_at, verified_at,
			completed_at, result_ref, result_note, rejection_reason,
			version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		uuid.UUID(req.ID),
		uuid.UUID(req.SubjectID),
		req.Type.String(),
		req.Status.String(),
		req.SubmittedAt,
		req.VerifiedAt,
		req.CompletedAt,
		req.ResultRef,
		req.ResultNote,
		req.RejectionReason,
		req.Version,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.RequestID) (Request, error) {
	exec := txcontext.Resolve(ctx, s.db)
	row := exec.QueryRowContext(ctx, selectRequest+` WHERE id = $1`, uuid.UUID(id))
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, sentinel.ErrNotFound
	}
	return req, err
}

// Update commits a transition only when the stored row still carries
// expectedVersion.
func (s *PostgresStore) Update(ctx context.Context, req Request, expectedVersion int) error {
	exec := txcontext.Resolve(ctx, s.db)
	res, err := exec.ExecContext(ctx, `
		UPDATE dsr_requests
		SET status = $1, verified_at = $2, completed_at = $3,
			result_ref = $4, result_note = $5, rejection_reason = $6,
			version = $7, updated_at = $8
		WHERE id = $9 AND version = $10
	`,
		req.Status.String(),
		req.VerifiedAt,
		req.CompletedAt,
		req.ResultRef,
		req.ResultNote,
		req.RejectionReason,
		req.Version,
		req.UpdatedAt,
		uuid.UUID(req.ID),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the row is gone or the version moved. Distinguish so a
		// caller retrying a conflict does not retry a missing request.
		if _, findErr := s.FindByID(ctx, req.ID); errors.Is(findErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

const selectRequest = `
	SELECT id, subject_id, type, status, submitted_at, verified_at,
		   completed_at, result_ref, result_note, rejection_reason,
		   version, created_at, updated_at
	FROM dsr_requests
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var (
		req     Request
		id      uuid.UUID
		subject uuid.UUID
		rtype   string
		status  string
	)
	err := row.Scan(&id, &subject, &rtype, &status, &req.SubmittedAt,
		&req.VerifiedAt, &req.CompletedAt, &req.ResultRef, &req.ResultNote,
		&req.RejectionReason, &req.Version, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return Request{}, err
	}
	req.ID = domain.RequestID(id)
	req.SubjectID = domain.SubjectID(subject)
	req.Type = domain.DSRType(rtype)
	req.Status = domain.DSRStatus(status)
	return req, nil
}
