package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"custodia/pkg/domain"
	"custodia/pkg/sentinel"
	txcontext "custodia/pkg/tx"
)

// TableSpec maps an entity type onto the product table that stores it. All
// column names come from startup configuration and are never taken from
// request input.
type TableSpec struct {
	EntityType    domain.EntityType
	Table         string
	IDColumn      string
	SubjectColumn string
	// FieldColumns are the data columns exposed in Record.Fields.
	FieldColumns    []string
	CreatedAtColumn string
	// LastActivityColumn is optional; without it the creation timestamp
	// doubles as the activity timestamp.
	LastActivityColumn string
	// DeletedAtColumn is optional; without it the table has no soft-delete
	// support and SoftDelete fails.
	DeletedAtColumn string
	// ParentColumns name the foreign key column pointing at each parent
	// entity type, used when a parent cascade reaches this table.
	ParentColumns map[domain.EntityType]string
}

// SQLAccessor is a table-driven Accessor over database/sql. One instance
// serves one entity type.
type SQLAccessor struct {
	db   *sql.DB
	spec TableSpec
}

func NewSQLAccessor(db *sql.DB, spec TableSpec) (*SQLAccessor, error) {
	if spec.EntityType.IsNil() {
		return nil, fmt.Errorf("table spec needs an entity type")
	}
	if spec.Table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	if spec.IDColumn == "" {
		spec.IDColumn = "id"
	}
	if spec.SubjectColumn == "" {
		return nil, fmt.Errorf("table %s: subject column is required", spec.Table)
	}
	if spec.CreatedAtColumn == "" {
		spec.CreatedAtColumn = "created_at"
	}
	return &SQLAccessor{db: db, spec: spec}, nil
}

func (a *SQLAccessor) basisColumn(basis domain.RetentionBasis) (string, error) {
	switch basis {
	case domain.BasisCreation:
		return a.spec.CreatedAtColumn, nil
	case domain.BasisLastActivity:
		if a.spec.LastActivityColumn != "" {
			return a.spec.LastActivityColumn, nil
		}
		return a.spec.CreatedAtColumn, nil
	case domain.BasisSoftDelete:
		if a.spec.DeletedAtColumn == "" {
			return "", fmt.Errorf("table %s has no soft-delete column", a.spec.Table)
		}
		return a.spec.DeletedAtColumn, nil
	}
	return "", fmt.Errorf("unknown retention basis %q", basis)
}

func (a *SQLAccessor) selectColumns() []string {
	cols := []string{a.spec.IDColumn, a.spec.SubjectColumn, a.spec.CreatedAtColumn}
	if a.spec.LastActivityColumn != "" {
		cols = append(cols, a.spec.LastActivityColumn)
	}
	if a.spec.DeletedAtColumn != "" {
		cols = append(cols, a.spec.DeletedAtColumn)
	}
	return append(cols, a.spec.FieldColumns...)
}

func (a *SQLAccessor) ListExpired(ctx context.Context, q ExpiryQuery) ([]Record, error) {
	basisCol, err := a.basisColumn(q.Basis)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s < $1 AND %s > $2",
		strings.Join(a.selectColumns(), ", "), a.spec.Table, basisCol, a.spec.IDColumn)
	if a.spec.DeletedAtColumn != "" && !q.IncludeDeleted {
		fmt.Fprintf(&b, " AND %s IS NULL", a.spec.DeletedAtColumn)
	}
	fmt.Fprintf(&b, " ORDER BY %s LIMIT $3", a.spec.IDColumn)

	exec := txcontext.Resolve(ctx, a.db)
	rows, err := exec.QueryContext(ctx, b.String(), q.Cutoff, q.AfterID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query expired %s: %w", a.spec.Table, err)
	}
	defer rows.Close()
	return a.scanRecords(rows)
}

func (a *SQLAccessor) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY %s",
		strings.Join(a.selectColumns(), ", "), a.spec.Table, a.spec.SubjectColumn, a.spec.IDColumn)

	exec := txcontext.Resolve(ctx, a.db)
	rows, err := exec.QueryContext(ctx, query, uuid.UUID(subject))
	if err != nil {
		return nil, fmt.Errorf("query %s by subject: %w", a.spec.Table, err)
	}
	defer rows.Close()
	return a.scanRecords(rows)
}

func (a *SQLAccessor) Fetch(ctx context.Context, id string) (Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		strings.Join(a.selectColumns(), ", "), a.spec.Table, a.spec.IDColumn)

	exec := txcontext.Resolve(ctx, a.db)
	rows, err := exec.QueryContext(ctx, query, id)
	if err != nil {
		return Record{}, fmt.Errorf("fetch %s record: %w", a.spec.Table, err)
	}
	defer rows.Close()
	records, err := a.scanRecords(rows)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, sentinel.ErrNotFound
	}
	return records[0], nil
}

func (a *SQLAccessor) Delete(ctx context.Context, id string) error {
	exec := txcontext.Resolve(ctx, a.db)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", a.spec.Table, a.spec.IDColumn)
	res, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", a.spec.Table, err)
	}
	return requireAffected(res)
}

func (a *SQLAccessor) SoftDelete(ctx context.Context, id string) error {
	if a.spec.DeletedAtColumn == "" {
		return fmt.Errorf("table %s has no soft-delete column", a.spec.Table)
	}
	exec := txcontext.Resolve(ctx, a.db)
	query := fmt.Sprintf("UPDATE %s SET %s = now() WHERE %s = $1 AND %s IS NULL",
		a.spec.Table, a.spec.DeletedAtColumn, a.spec.IDColumn, a.spec.DeletedAtColumn)
	res, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft-delete from %s: %w", a.spec.Table, err)
	}
	return requireAffected(res)
}

func (a *SQLAccessor) Anonymize(ctx context.Context, id string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	known := make(map[string]bool, len(a.spec.FieldColumns))
	for _, c := range a.spec.FieldColumns {
		known[c] = true
	}

	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, col := range a.spec.FieldColumns {
		val, ok := fields[col]
		if !ok {
			continue
		}
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	for col := range fields {
		if !known[col] {
			return fmt.Errorf("table %s has no field column %q", a.spec.Table, col)
		}
	}
	args = append(args, id)

	exec := txcontext.Resolve(ctx, a.db)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		a.spec.Table, strings.Join(sets, ", "), a.spec.IDColumn, len(args))
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("anonymize %s record: %w", a.spec.Table, err)
	}
	return requireAffected(res)
}

func (a *SQLAccessor) ListChildIDs(ctx context.Context, parentType domain.EntityType, parentID string) ([]string, error) {
	col, ok := a.spec.ParentColumns[parentType]
	if !ok {
		return nil, nil
	}
	exec := txcontext.Resolve(ctx, a.db)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY %s",
		a.spec.IDColumn, a.spec.Table, col, a.spec.IDColumn)
	rows, err := exec.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("list %s children: %w", a.spec.Table, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s child id: %w", a.spec.Table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (a *SQLAccessor) DeleteChildrenOf(ctx context.Context, parentType domain.EntityType, parentID string) error {
	col, ok := a.spec.ParentColumns[parentType]
	if !ok {
		// No foreign key to that parent, nothing hangs off it here.
		return nil
	}
	exec := txcontext.Resolve(ctx, a.db)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", a.spec.Table, col)
	if _, err := exec.ExecContext(ctx, query, parentID); err != nil {
		return fmt.Errorf("delete %s children: %w", a.spec.Table, err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (a *SQLAccessor) scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := a.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (a *SQLAccessor) scanRecord(rows *sql.Rows) (Record, error) {
	var (
		id           string
		subject      uuid.UUID
		createdAt    time.Time
		lastActivity sql.NullTime
		deletedAt    sql.NullTime
	)
	dests := []any{&id, &subject, &createdAt}
	if a.spec.LastActivityColumn != "" {
		dests = append(dests, &lastActivity)
	}
	if a.spec.DeletedAtColumn != "" {
		dests = append(dests, &deletedAt)
	}
	fieldVals := make([]any, len(a.spec.FieldColumns))
	for i := range fieldVals {
		dests = append(dests, &fieldVals[i])
	}

	if err := rows.Scan(dests...); err != nil {
		return Record{}, fmt.Errorf("scan %s record: %w", a.spec.Table, err)
	}

	rec := Record{
		EntityType:     a.spec.EntityType,
		ID:             id,
		SubjectID:      domain.SubjectID(subject),
		Fields:         make(map[string]any, len(a.spec.FieldColumns)),
		CreatedAt:      createdAt,
		LastActivityAt: createdAt,
	}
	if lastActivity.Valid {
		rec.LastActivityAt = lastActivity.Time
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		rec.DeletedAt = &t
	}
	for i, col := range a.spec.FieldColumns {
		val := fieldVals[i]
		// database/sql hands text columns back as []byte.
		if b, ok := val.([]byte); ok {
			val = string(b)
		}
		rec.Fields[col] = val
	}
	return rec, nil
}

var _ Accessor = (*SQLAccessor)(nil)
