package checkin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists records and the config singleton in Postgres.
//
// Expected schema:
//
//	CREATE TABLE records (
//	    id          TEXT PRIMARY KEY,
//	    nome_completo TEXT NOT NULL,
//	    matricula   TEXT NOT NULL,
//	    timestamp   TIMESTAMPTZ NOT NULL,
//	    data        TEXT NOT NULL,
//	    hora        TEXT NOT NULL,
//	    ip          TEXT NOT NULL DEFAULT '',
//	    user_agent  TEXT NOT NULL DEFAULT '',
//	    device_hint TEXT NOT NULL DEFAULT '',
//	    status      TEXT NOT NULL DEFAULT 'registrado',
//	    UNIQUE (matricula, data)
//	);
//
//	CREATE TABLE config (
//	    id         INT PRIMARY KEY,
//	    checkin_enabled BOOLEAN NOT NULL DEFAULT TRUE,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    updated_by TEXT NOT NULL DEFAULT 'system'
//	);
//
// The UNIQUE (matricula, data) constraint makes concurrent same-day
// submissions fail atomically instead of racing past the service pre-check.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, nome_completo, matricula, timestamp, data, hora, ip, user_agent, device_hint, status`

// List returns all records ordered by timestamp descending.
func (r *Repository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		ORDER BY timestamp DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Insert writes a new record. Translates the unique-constraint violation on
// (matricula, data) into ErrRecordExists.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("record id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, rec.FullName, rec.Matricula, rec.Timestamp, rec.Date, rec.TimeLabel,
		rec.IP, rec.UserAgent, rec.DeviceHint, rec.Status)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s on %s", ErrRecordExists, rec.Matricula, rec.Date)
	}
	return err
}

// Delete removes a record by id; a missing id is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE id = $1`, id)
	return err
}

// FindByMatriculaAndDate returns the record for matricula on date, or nil.
func (r *Repository) FindByMatriculaAndDate(ctx context.Context, matricula, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE matricula = $1 AND data = $2
		LIMIT 1
	`, matricula, date)
	var rec Record
	if err := scanRecord(row, &rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Get reads the config singleton. A missing row is reported as an error so
// the service can apply its fail-open default.
func (r *Repository) Get(ctx context.Context) (Config, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT checkin_enabled, updated_at, updated_by
		FROM config WHERE id = 1
	`)
	var cfg Config
	if err := row.Scan(&cfg.Accepting, &cfg.UpdatedAt, &cfg.UpdatedBy); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Update upserts the config singleton and returns the stored row.
func (r *Repository) Update(ctx context.Context, cfg Config) (Config, error) {
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO config (id, checkin_enabled, updated_at, updated_by)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			checkin_enabled = EXCLUDED.checkin_enabled,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
		RETURNING checkin_enabled, updated_at, updated_by
	`, cfg.Accepting, cfg.UpdatedAt, cfg.UpdatedBy)
	var out Config
	if err := row.Scan(&out.Accepting, &out.UpdatedAt, &out.UpdatedBy); err != nil {
		return Config{}, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, rec *Record) error {
	return row.Scan(&rec.ID, &rec.FullName, &rec.Matricula, &rec.Timestamp, &rec.Date,
		&rec.TimeLabel, &rec.IP, &rec.UserAgent, &rec.DeviceHint, &rec.Status)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
