package consent

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"custodia/pkg/domain"
	txcontext "custodia/pkg/tx"
)

// PostgresStore appends to the consent_ledger table. Insert-only: this type
// intentionally has no UPDATE or DELETE statement.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	exec := txcontext.Resolve(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO consent_ledger (
			id, user_id, purpose, granted, ip, user_agent, device,
			created_at, revoked_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		uuid.UUID(rec.ID),
		uuid.UUID(rec.UserID),
		rec.Purpose,
		rec.Granted,
		rec.IP,
		rec.UserAgent,
		rec.Device,
		rec.Timestamp,
		rec.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consent record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUserPurpose(ctx context.Context, userID domain.SubjectID, purpose string) ([]Record, error) {
	exec := txcontext.Resolve(ctx, s.db)
	rows, err := exec.QueryContext(ctx, selectConsent+`
		WHERE user_id = $1 AND purpose = $2
		ORDER BY created_at, id
	`, uuid.UUID(userID), purpose)
	if err != nil {
		return nil, fmt.Errorf("query consent ledger: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID domain.SubjectID) ([]Record, error) {
	exec := txcontext.Resolve(ctx, s.db)
	rows, err := exec.QueryContext(ctx, selectConsent+`
		WHERE user_id = $1
		ORDER BY created_at, id
	`, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query consent ledger: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

const selectConsent = `
	SELECT id, user_id, purpose, granted, ip, user_agent, device,
		   created_at, revoked_at
	FROM consent_ledger
`

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			rec    Record
			id     uuid.UUID
			userID uuid.UUID
		)
		if err := rows.Scan(&id, &userID, &rec.Purpose, &rec.Granted, &rec.IP,
			&rec.UserAgent, &rec.Device, &rec.Timestamp, &rec.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan consent record: %w", err)
		}
		rec.ID = domain.ConsentID(id)
		rec.UserID = domain.SubjectID(userID)
		out = append(out, rec)
	}
	return out, rows.Err()
}
