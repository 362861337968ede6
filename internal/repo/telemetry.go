package repo

import (
	"context"
	"database/sql"

	"adoptline/internal/domain"
)

// InsertTelemetryValue appends a value. Values are never updated or deleted.
func (r Repo) InsertTelemetryValue(ctx context.Context, v domain.TelemetryValue) error {
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO telemetry_values(id,attribute_id,value,notes,created_at) VALUES (?,?,?,?,?)`),
		v.ID, v.AttributeID, string(v.Value), nullable(v.Notes), v.CreatedAt)
	return err
}

func scanTelemetryValue(row rowScanner) (domain.TelemetryValue, error) {
	var (
		v   domain.TelemetryValue
		raw string
	)
	err := row.Scan(&v.ID, &v.AttributeID, &raw, &v.Notes, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Value = []byte(raw)
	return v, nil
}

const telemetrySelect = `SELECT id,attribute_id,value,COALESCE(notes,''),created_at FROM telemetry_values`

// LatestTelemetryValueTx returns the most recent value for an attribute. Ties
// on created_at are broken by the time-ordered id.
func (r Repo) LatestTelemetryValueTx(ctx context.Context, tx *sql.Tx, attributeID string) (domain.TelemetryValue, error) {
	return scanTelemetryValue(tx.QueryRowContext(ctx, r.q(telemetrySelect+` WHERE attribute_id=? ORDER BY created_at DESC, id DESC LIMIT 1`), attributeID))
}

// ListTelemetryValues returns an attribute's history, newest first.
func (r Repo) ListTelemetryValues(ctx context.Context, attributeID string, limit int) ([]domain.TelemetryValue, error) {
	query := telemetrySelect + ` WHERE attribute_id=? ORDER BY created_at DESC, id DESC`
	args := []any{attributeID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TelemetryValue
	for rows.Next() {
		v, err := scanTelemetryValue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
